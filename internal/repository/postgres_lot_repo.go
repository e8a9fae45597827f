package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/mockmarket/internal/database"
	"github.com/hitoshi/mockmarket/internal/model"
)

// PostgresLotRepo はPostgreSQLを使用した保有ロットリポジトリ。
type PostgresLotRepo struct {
	db database.DBTX
}

// NewPostgresLotRepo はPostgresLotRepoを生成する。
func NewPostgresLotRepo(db database.DBTX) *PostgresLotRepo {
	return &PostgresLotRepo{db: db}
}

// Insert はロットを追加する。
func (r *PostgresLotRepo) Insert(ctx context.Context, lot *model.Lot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO portfolio_lots (id, username, ticker, unit_price, quantity, acquired_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		lot.ID, lot.Username, lot.Ticker, lot.UnitPrice, lot.Quantity, lot.AcquiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	return nil
}

// ListByTicker は指定銘柄のロットを取得日時の古い順に返す。
func (r *PostgresLotRepo) ListByTicker(ctx context.Context, username, ticker string, forUpdate bool) ([]model.Lot, error) {
	query := `SELECT id, username, ticker, unit_price, quantity, acquired_at
		 FROM portfolio_lots
		 WHERE username = $1 AND ticker = $2
		 ORDER BY acquired_at ASC, id ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := r.db.QueryContext(ctx, query, username, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		var lot model.Lot
		if err := rows.Scan(&lot.ID, &lot.Username, &lot.Ticker, &lot.UnitPrice, &lot.Quantity, &lot.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lots: %w", err)
	}

	return lots, nil
}

// Holdings は銘柄ごとの保有数量合計を返す。
func (r *PostgresLotRepo) Holdings(ctx context.Context, username string) ([]model.Holding, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ticker, SUM(quantity)
		 FROM portfolio_lots
		 WHERE username = $1
		 GROUP BY ticker
		 ORDER BY ticker ASC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.Ticker, &h.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}

	return holdings, nil
}

// UpdateQuantity はロットの数量を更新する。
func (r *PostgresLotRepo) UpdateQuantity(ctx context.Context, id string, quantity int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE portfolio_lots SET quantity = $2 WHERE id = $1`,
		id, quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot quantity: %w", err)
	}
	return nil
}

// Delete はロットを削除する。
func (r *PostgresLotRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM portfolio_lots WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete lot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LotRepository = (*PostgresLotRepo)(nil)
