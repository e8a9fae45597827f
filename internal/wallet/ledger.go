// Package wallet はユーザーの現金残高を管理する台帳を提供する。
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/shopspring/decimal"
)

// Ledger はウォレット残高の照会・入出金を行う。
// 残高の検証と更新はリポジトリの1つのアトミックな操作で行い、
// 残高が負になることはない。
type Ledger struct {
	repo repository.WalletRepository
}

// NewLedger はLedgerを生成する。
func NewLedger(repo repository.WalletRepository) *Ledger {
	return &Ledger{repo: repo}
}

// GetBalance はウォレットを返す。存在しない場合はnilを返す。
func (l *Ledger) GetBalance(ctx context.Context, username string) (*model.Wallet, error) {
	w, err := l.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return w, nil
}

// Debit は残高からamountを差し引き、差し引き後の残高を返す。
// amountは正の値のみ受け付ける。
func (l *Ledger) Debit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.NewValidationError("出金額は正の値で指定してください")
	}

	balance, err := l.repo.Debit(ctx, username, amount)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("failed to debit wallet: %w", err)
	}
	return balance, nil
}

// Credit は残高にamountを加え、加算後の残高を返す。
// amountは0以上の値のみ受け付ける。
func (l *Ledger) Credit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, model.NewValidationError("入金額は0以上で指定してください")
	}

	balance, err := l.repo.Credit(ctx, username, amount)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return balance, nil
}
