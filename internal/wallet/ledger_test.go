package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memWalletRepo はUPDATE ... WHERE balance >= $2 と同じ条件付き減算を行うインメモリ実装。
type memWalletRepo struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	err      error
}

func newMemWalletRepo(balances map[string]decimal.Decimal) *memWalletRepo {
	return &memWalletRepo{balances: balances}
}

func (r *memWalletRepo) FindByUsername(_ context.Context, username string) (*model.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	b, ok := r.balances[username]
	if !ok {
		return nil, nil
	}
	return &model.Wallet{Username: username, Balance: b}, nil
}

func (r *memWalletRepo) LockForUpdate(ctx context.Context, username string) (*model.Wallet, error) {
	return r.FindByUsername(ctx, username)
}

func (r *memWalletRepo) Debit(_ context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return decimal.Zero, r.err
	}
	b, ok := r.balances[username]
	if !ok {
		return decimal.Zero, model.NewNoSuchWalletError(username)
	}
	if b.LessThan(amount) {
		return decimal.Zero, model.NewInsufficientFundsError()
	}
	r.balances[username] = b.Sub(amount)
	return r.balances[username], nil
}

func (r *memWalletRepo) Credit(_ context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return decimal.Zero, r.err
	}
	b, ok := r.balances[username]
	if !ok {
		return decimal.Zero, model.NewNoSuchWalletError(username)
	}
	r.balances[username] = b.Add(amount)
	return r.balances[username], nil
}

var _ repository.WalletRepository = (*memWalletRepo)(nil)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedger_GetBalance(t *testing.T) {
	l := NewLedger(newMemWalletRepo(map[string]decimal.Decimal{"alice": d("10000")}))

	w, err := l.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(d("10000")))

	w, err = l.GetBalance(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, w)
}

func TestLedger_Debit(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		wantCode string
		wantBal  string
	}{
		{"exact balance", "10000", "", "0"},
		{"partial", "2500.25", "", "7499.75"},
		{"one cent over", "10000.01", model.ErrCodeInsufficientFunds, "10000"},
		{"zero", "0", model.ErrCodeValidation, "10000"},
		{"negative", "-5", model.ErrCodeValidation, "10000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemWalletRepo(map[string]decimal.Decimal{"alice": d("10000")})
			l := NewLedger(repo)

			bal, err := l.Debit(context.Background(), "alice", d(tt.amount))
			if tt.wantCode != "" {
				require.True(t, model.HasCode(err, tt.wantCode), "got %v", err)
			} else {
				require.NoError(t, err)
				require.True(t, bal.Equal(d(tt.wantBal)), "returned balance = %s", bal)
			}
			require.True(t, repo.balances["alice"].Equal(d(tt.wantBal)), "stored balance = %s", repo.balances["alice"])
		})
	}
}

func TestLedger_Debit_NoWallet(t *testing.T) {
	l := NewLedger(newMemWalletRepo(map[string]decimal.Decimal{}))

	_, err := l.Debit(context.Background(), "ghost", d("1"))
	require.True(t, model.HasCode(err, model.ErrCodeNoSuchWallet), "got %v", err)
}

func TestLedger_Debit_StorageErrorIsWrapped(t *testing.T) {
	repo := newMemWalletRepo(map[string]decimal.Decimal{"alice": d("1")})
	repo.err = errors.New("connection reset")
	l := NewLedger(repo)

	_, err := l.Debit(context.Background(), "alice", d("1"))
	require.ErrorContains(t, err, "failed to debit wallet")
}

func TestLedger_Credit(t *testing.T) {
	repo := newMemWalletRepo(map[string]decimal.Decimal{"alice": d("0")})
	l := NewLedger(repo)
	ctx := context.Background()

	bal, err := l.Credit(ctx, "alice", d("0"))
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	bal, err = l.Credit(ctx, "alice", d("123.45"))
	require.NoError(t, err)
	require.True(t, bal.Equal(d("123.45")))

	_, err = l.Credit(ctx, "alice", d("-1"))
	require.True(t, model.HasCode(err, model.ErrCodeValidation), "got %v", err)

	_, err = l.Credit(ctx, "ghost", d("1"))
	require.True(t, model.HasCode(err, model.ErrCodeNoSuchWallet), "got %v", err)
}

func TestLedger_Debit_ConcurrentNeverOverdraws(t *testing.T) {
	repo := newMemWalletRepo(map[string]decimal.Decimal{"alice": d("10000")})
	l := NewLedger(repo)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(context.Background(), "alice", d("6000")); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), ok.Load())
	require.True(t, repo.balances["alice"].Equal(d("4000")))
}
