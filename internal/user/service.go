// Package user はログイン中ユーザーの口座照会を提供する。
package user

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/portfolio"
	"github.com/hitoshi/mockmarket/internal/wallet"
	"github.com/shopspring/decimal"
)

// SessionCache はセッションの表示用キャッシュを更新するインターフェース。
type SessionCache interface {
	UpdateSessionData(ctx context.Context, token string, patch map[string]string) error
}

// Overview は残高と保有銘柄をまとめた口座概要。
type Overview struct {
	Username       string
	Balance        decimal.Decimal
	BalanceDisplay string
	Holdings       []model.Holding
	RefreshedAt    time.Time
}

// Service は口座照会のサービス層。
// 残高は常にウォレット台帳から読み、セッションには書き戻すだけにする。
type Service struct {
	wallets   *wallet.Ledger
	portfolio *portfolio.Ledger
	sessions  SessionCache
	currency  string
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(wallets *wallet.Ledger, lots *portfolio.Ledger, sessions SessionCache, currency string) *Service {
	if currency == "" {
		currency = model.DefaultCurrency
	}
	return &Service{
		wallets:   wallets,
		portfolio: lots,
		sessions:  sessions,
		currency:  currency,
		now:       time.Now,
	}
}

// Overview は口座概要を返し、セッションのキャッシュ（wallet_balance, refreshed_at）を更新する。
// キャッシュの更新に失敗しても概要は返す。
func (s *Service) Overview(ctx context.Context, username, token string) (*Overview, error) {
	w, err := s.Balance(ctx, username)
	if err != nil {
		return nil, err
	}
	holdings, err := s.portfolio.Holdings(ctx, username)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ov := &Overview{
		Username:       username,
		Balance:        w.Balance,
		BalanceDisplay: model.FormatAmount(w.Balance, s.currency),
		Holdings:       holdings,
		RefreshedAt:    now,
	}

	if s.sessions != nil && token != "" {
		patch := map[string]string{
			model.SessionDataWalletBalance: w.Balance.StringFixed(2),
			model.SessionDataRefreshedAt:   now.Format(time.RFC3339),
		}
		if err := s.sessions.UpdateSessionData(ctx, token, patch); err != nil {
			slog.Warn("セッションキャッシュの更新に失敗しました",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
	}

	return ov, nil
}

// Balance はウォレットを返す。存在しない場合はNO_SUCH_WALLETを返す。
func (s *Service) Balance(ctx context.Context, username string) (*model.Wallet, error) {
	w, err := s.wallets.GetBalance(ctx, username)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, model.NewNoSuchWalletError(username)
	}
	return w, nil
}

// Holdings は銘柄ごとの保有数を返す。
func (s *Service) Holdings(ctx context.Context, username string) ([]model.Holding, error) {
	return s.portfolio.Holdings(ctx, username)
}

// Lots は指定銘柄のロットを取得日時の古い順に返す。
func (s *Service) Lots(ctx context.Context, username, ticker string) ([]model.Lot, error) {
	return s.portfolio.Lots(ctx, username, ticker)
}

// Currency は表示に使う通貨コードを返す。
func (s *Service) Currency() string {
	return s.currency
}
