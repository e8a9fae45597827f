// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// Webプロセスのリクエスト契機の掃除とは別に、workerプロセスから
// 一定間隔でセッションストアを掃除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は既定の実行間隔。
const DefaultInterval = 10 * time.Minute

// Sweeper は期限切れセッションを削除し、削除件数を返す。
// *session.Manager が満たす。
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SessionSweepJob は期限切れセッションの削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type SessionSweepJob struct {
	sweeper  Sweeper
	logger   *slog.Logger
	Interval time.Duration
}

// NewSessionSweepJob は新しいSessionSweepJobを生成する。
func NewSessionSweepJob(sweeper Sweeper, logger *slog.Logger) *SessionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweepJob{
		sweeper:  sweeper,
		logger:   logger,
		Interval: DefaultInterval,
	}
}

// Run は期限切れセッションを1回削除する。
func (j *SessionSweepJob) Run(ctx context.Context) error {
	start := time.Now()

	removed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", removed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降Interval間隔で実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *SessionSweepJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
