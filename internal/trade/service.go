// Package trade は株式の売買を台帳に反映する取引サービスを提供する。
// 買付は出金とロット追加、売却はFIFOでのロット消費と入金を
// 1つの作業単位で行い、どちらかが失敗した場合はどちらも反映しない。
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/quote"
	"github.com/shopspring/decimal"
)

// DefaultQuoteTimeout は株価取得の既定のタイムアウト。
const DefaultQuoteTimeout = 5 * time.Second

// Recorder は取引のメトリクスの記録先。
type Recorder interface {
	RecordTrade(side, result string, duration time.Duration)
}

// Config は取引サービスの設定。
type Config struct {
	QuoteTimeout time.Duration
	Recorder     Recorder
}

// Service は売買を実行する。
type Service struct {
	quotes       quote.Provider
	books        Books
	locks        *KeyedMutex
	quoteTimeout time.Duration
	recorder     Recorder
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(quotes quote.Provider, books Books, cfg Config) *Service {
	timeout := cfg.QuoteTimeout
	if timeout <= 0 {
		timeout = DefaultQuoteTimeout
	}
	return &Service{
		quotes:       quotes,
		books:        books,
		locks:        NewKeyedMutex(),
		quoteTimeout: timeout,
		recorder:     cfg.Recorder,
		now:          time.Now,
	}
}

// Buy は現在値でquantity株を買い付ける。
// 残高が不足する場合はINSUFFICIENT_FUNDSを返し、台帳は変更しない。
func (s *Service) Buy(ctx context.Context, username, ticker string, quantity int64) (receipt *model.TradeReceipt, err error) {
	start := time.Now()
	defer func() { s.record(model.SideBuy, err, start) }()

	t, err := validateOrder(ticker, quantity)
	if err != nil {
		return nil, err
	}

	q, err := s.fetchQuote(ctx, t)
	if err != nil {
		return nil, err
	}
	cost := q.Price.Mul(decimal.NewFromInt(quantity))

	unlock := s.locks.Lock(username)
	defer unlock()

	err = s.books.Atomically(ctx, username, func(ctx context.Context, l Ledgers) error {
		balance, err := l.Wallet.Debit(ctx, username, cost)
		if err != nil {
			return err
		}
		if _, err := l.Portfolio.AddLot(ctx, username, t, q.Price, quantity); err != nil {
			return err
		}

		receipt = &model.TradeReceipt{
			ID:         uuid.New().String(),
			Username:   username,
			Side:       model.SideBuy,
			Ticker:     t,
			Quantity:   quantity,
			Price:      q.Price,
			Total:      cost,
			Balance:    balance,
			QuotedAt:   q.AsOf,
			ExecutedAt: s.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("買付が約定しました",
		slog.String("username", username),
		slog.String("ticker", t),
		slog.Int64("quantity", quantity),
		slog.String("price", q.Price.String()),
		slog.String("total", cost.String()),
		slog.String("trade_id", receipt.ID),
	)
	return receipt, nil
}

// Sell は現在値でquantity株を売却する。ロットは取得日時の古い順に消費する。
// 保有数が不足する場合はINSUFFICIENT_HOLDINGSを返し、台帳は変更しない。
func (s *Service) Sell(ctx context.Context, username, ticker string, quantity int64) (receipt *model.TradeReceipt, err error) {
	start := time.Now()
	defer func() { s.record(model.SideSell, err, start) }()

	t, err := validateOrder(ticker, quantity)
	if err != nil {
		return nil, err
	}

	q, err := s.fetchQuote(ctx, t)
	if err != nil {
		return nil, err
	}
	proceeds := q.Price.Mul(decimal.NewFromInt(quantity))

	unlock := s.locks.Lock(username)
	defer unlock()

	err = s.books.Atomically(ctx, username, func(ctx context.Context, l Ledgers) error {
		realized, err := l.Portfolio.Consume(ctx, username, t, quantity)
		if err != nil {
			return err
		}
		balance, err := l.Wallet.Credit(ctx, username, proceeds)
		if err != nil {
			return err
		}

		costBasis := decimal.Zero
		for _, r := range realized {
			costBasis = costBasis.Add(r.Cost())
		}

		receipt = &model.TradeReceipt{
			ID:          uuid.New().String(),
			Username:    username,
			Side:        model.SideSell,
			Ticker:      t,
			Quantity:    quantity,
			Price:       q.Price,
			Total:       proceeds,
			Balance:     balance,
			QuotedAt:    q.AsOf,
			ExecutedAt:  s.now(),
			Realized:    realized,
			CostBasis:   costBasis,
			RealizedPnL: proceeds.Sub(costBasis),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("売却が約定しました",
		slog.String("username", username),
		slog.String("ticker", t),
		slog.Int64("quantity", quantity),
		slog.String("price", q.Price.String()),
		slog.String("realized_pnl", receipt.RealizedPnL.String()),
		slog.String("trade_id", receipt.ID),
	)
	return receipt, nil
}

// Preview は買付の見積もりを返す。台帳は変更しない。
func (s *Service) Preview(ctx context.Context, username, ticker string, quantity int64) (*model.TradePreview, error) {
	t, err := validateOrder(ticker, quantity)
	if err != nil {
		return nil, err
	}

	q, err := s.fetchQuote(ctx, t)
	if err != nil {
		return nil, err
	}

	w, err := s.books.Ledgers().Wallet.GetBalance(ctx, username)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, model.NewNoSuchWalletError(username)
	}

	total := q.Price.Mul(decimal.NewFromInt(quantity))
	remaining := w.Balance.Sub(total)
	return &model.TradePreview{
		Ticker:     t,
		Quantity:   quantity,
		Price:      q.Price,
		Total:      total,
		Balance:    w.Balance,
		Remaining:  remaining,
		Affordable: !remaining.IsNegative(),
		QuotedAt:   q.AsOf,
	}, nil
}

// fetchQuote はタイムアウト付きで株価を取得する。
// 失敗はすべてQUOTE_UNAVAILABLEとして返し、再試行はしない。
func (s *Service) fetchQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	defer cancel()

	q, err := s.quotes.GetQuote(qctx, ticker)
	if err != nil {
		if model.HasCode(err, model.ErrCodeQuoteUnavailable) {
			return nil, err
		}
		return nil, model.NewQuoteUnavailableError(ticker, err.Error())
	}
	if q == nil || !q.Price.IsPositive() {
		return nil, model.NewQuoteUnavailableError(ticker, "invalid price")
	}
	return q, nil
}

func (s *Service) record(side model.Side, err error, start time.Time) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordTrade(string(side), resultLabel(err), time.Since(start))
}

// resultLabel はメトリクス用の結果ラベルを返す。
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}

func validateOrder(ticker string, quantity int64) (string, error) {
	t, err := model.NormalizeTicker(ticker)
	if err != nil {
		return "", err
	}
	if quantity <= 0 {
		return "", model.NewValidationError(fmt.Sprintf("数量は1以上の整数で指定してください: %d", quantity))
	}
	return t, nil
}
