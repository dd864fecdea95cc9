// Package cleanup は記事データの自動削除ジョブを提供する。
// 保持期間（デフォルト180日）を超過した記事をcron式で指定した間隔で削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionDays は記事のデフォルト保持日数。
const DefaultRetentionDays = 180

// ItemDeleter は保持期間を超過した記事を削除するインターフェース。
type ItemDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した記事の自動削除ジョブ。
// 冪等な削除処理で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	items         ItemDeleter
	logger        *slog.Logger
	RetentionDays int // 記事の保持日数（デフォルト: 180）

	now func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はデフォルトの180日を使用する。
func NewCleanupJob(items ItemDeleter, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		items:         items,
		logger:        logger,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Run は保持期間を超過した記事を1回削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.items.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("記事クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("記事クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("記事クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start はcron式（"@daily" や "0 3 * * *" など）に従ってRunを定期実行する。
// 実行はctxを引き継ぎ、Stopで停止する。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("クリーンアップジョブは既に開始されています")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = j.Run(ctx)
	}); err != nil {
		return fmt.Errorf("cron式が不正です %q: %w", schedule, err)
	}
	c.Start()
	j.cron = c

	j.logger.Info("記事クリーンアップジョブを開始しました",
		slog.String("schedule", schedule),
		slog.Int("retention_days", j.RetentionDays),
	)
	return nil
}

// Stop は定期実行を停止し、実行中のジョブの完了を待つ。未開始の場合は何もしない。
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}
