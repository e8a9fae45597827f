// Package portfolio はユーザーの保有株をロット単位で管理する台帳を提供する。
// 売却は取得日時の古いロットから消費する（FIFO）。
package portfolio

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/shopspring/decimal"
)

// Ledger は保有ロットの追加・照会・FIFO消費を行う。
type Ledger struct {
	repo  repository.LotRepository
	clock *Clock
}

// NewLedger はLedgerを生成する。clockがnilの場合はtime.Nowによる時計を使用する。
// トランザクションごとにLedgerを作る場合は同じclockを共有すること。
func NewLedger(repo repository.LotRepository, clock *Clock) *Ledger {
	if clock == nil {
		clock = NewClock(nil)
	}
	return &Ledger{repo: repo, clock: clock}
}

// AddLot は新しいロットを追加する。
func (l *Ledger) AddLot(ctx context.Context, username, ticker string, unitPrice decimal.Decimal, quantity int64) (*model.Lot, error) {
	t, err := model.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, model.NewValidationError("数量は1以上で指定してください")
	}
	if !unitPrice.IsPositive() {
		return nil, model.NewValidationError("取得単価は正の値で指定してください")
	}

	lot := &model.Lot{
		ID:         uuid.New().String(),
		Username:   username,
		Ticker:     t,
		UnitPrice:  unitPrice,
		Quantity:   quantity,
		AcquiredAt: l.clock.Next(),
	}
	if err := l.repo.Insert(ctx, lot); err != nil {
		return nil, fmt.Errorf("failed to add lot: %w", err)
	}
	return lot, nil
}

// Holdings は銘柄ごとの保有数量を銘柄コード順で返す。
func (l *Ledger) Holdings(ctx context.Context, username string) ([]model.Holding, error) {
	holdings, err := l.repo.Holdings(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	return holdings, nil
}

// Lots は指定銘柄のロットを取得日時の古い順に返す。
func (l *Ledger) Lots(ctx context.Context, username, ticker string) ([]model.Lot, error) {
	t, err := model.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	lots, err := l.repo.ListByTicker(ctx, username, t, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get lots: %w", err)
	}
	return lots, nil
}

// Consume は古いロットから順にquantity株を消費し、消費したロットの内訳を返す。
// 保有数が不足する場合はINSUFFICIENT_HOLDINGSを返し、ロットは一切変更しない。
// 数量が0になったロットは削除する。
func (l *Ledger) Consume(ctx context.Context, username, ticker string, quantity int64) ([]model.RealizedLot, error) {
	t, err := model.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, model.NewValidationError("数量は1以上で指定してください")
	}

	lots, err := l.repo.ListByTicker(ctx, username, t, true)
	if err != nil {
		return nil, fmt.Errorf("failed to lock lots: %w", err)
	}

	realized, changes, ok := planFIFO(lots, quantity)
	if !ok {
		return nil, model.NewInsufficientHoldingsError(t)
	}

	for _, c := range changes {
		if c.Remaining == 0 {
			if err := l.repo.Delete(ctx, c.LotID); err != nil {
				return nil, fmt.Errorf("failed to consume lot: %w", err)
			}
			continue
		}
		if err := l.repo.UpdateQuantity(ctx, c.LotID, c.Remaining); err != nil {
			return nil, fmt.Errorf("failed to consume lot: %w", err)
		}
	}

	return realized, nil
}
