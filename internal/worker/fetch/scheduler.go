package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// ItemUpdater はスケジューラから駆動されるバッチ更新のインターフェース。
type ItemUpdater interface {
	UpdateItems(ctx context.Context) error
	IsUpdating() bool
}

// Categorizer は更新後に未分類の記事を分類するインターフェース。
type Categorizer interface {
	CategorizeUncategorized(ctx context.Context) ([]model.Group, error)
	IsRunning() bool
}

// SchedulerConfig はSchedulerの設定。
type SchedulerConfig struct {
	// Interval は更新の周期。
	Interval time.Duration
	// DriftThreshold を超えて発火が遅れた場合は次回の期限を現在時刻から取り直す。
	DriftThreshold time.Duration
}

// DefaultSchedulerConfig はデフォルトの設定（10分周期、閾値30秒）を返す。
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:       10 * time.Minute,
		DriftThreshold: 30 * time.Second,
	}
}

// Scheduler は一定周期でバッチ更新を起動するスケジューラ。
// 期限は絶対時刻で管理し、通常のジッターでは前回の期限に周期を足して周期のずれを防ぐ。
// スリープ復帰などで大きく遅れた場合は現在時刻を基準に取り直す。
// 更新が実行中の場合はその回を読み飛ばし、重ねて実行しない。
type Scheduler struct {
	updater     ItemUpdater
	categorizer Categorizer
	logger      *slog.Logger
	cfg         SchedulerConfig
	now         func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	timer    *time.Timer
	deadline time.Time
	running  bool
	// gen はStartのたびに進め、古いタイマーの発火を無視するために使う。
	gen uint64
	wg  sync.WaitGroup
}

// NewScheduler は新しいSchedulerを生成する。categorizerはnilでもよい。
// 周期と閾値が正でない場合はエラーを返す。
func NewScheduler(updater ItemUpdater, categorizer Categorizer, logger *slog.Logger, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("invalid scheduler interval: %v", cfg.Interval)
	}
	if cfg.DriftThreshold <= 0 {
		return nil, fmt.Errorf("invalid drift threshold: %v", cfg.DriftThreshold)
	}
	return &Scheduler{
		updater:     updater,
		categorizer: categorizer,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

// Start は即座に1回更新を起動し、現在時刻+周期でタイマーを設定する。
// 既に開始済みの場合は何もしない。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.gen++
	gen := s.gen
	s.ctx = ctx
	s.deadline = s.now().Add(s.cfg.Interval)
	s.timer = time.AfterFunc(s.cfg.Interval, func() { s.fire(gen) })
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("スケジューラを開始しました",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("drift_threshold", s.cfg.DriftThreshold),
	)

	go func() {
		defer s.wg.Done()
		s.guardedUpdate(ctx)
	}()
}

// Stop は次回のタイマーを取り消して状態をクリアする。停止済みの場合は何もしない。
// 実行中の更新は中断せず、終了を待たない。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.deadline = time.Time{}
	s.ctx = nil
	s.running = false

	s.logger.Info("スケジューラを停止しました")
}

// Run はStartしてcontextが終了するまでブロックし、Stopしてから実行中の更新の終了を待つ。
func (s *Scheduler) Run(ctx context.Context) {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	s.wg.Wait()
}

// Deadline は次回の発火予定時刻を返す。停止中はゼロ値。
func (s *Scheduler) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// fire はタイマー発火時の処理。次回の期限を決めてタイマーを再設定してから更新を実行する。
// genが現在の世代と異なる場合は、Stop後に再Startされる前のタイマーなので何もしない。
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	now := s.now()
	prev := s.deadline
	next := computeNextDeadline(prev, now, s.cfg.Interval, s.cfg.DriftThreshold)
	if drift := now.Sub(prev); drift > s.cfg.DriftThreshold {
		s.logger.Warn("スケジュールの遅延が閾値を超えたため再同期します",
			slog.Duration("drift", drift),
			slog.Time("next_deadline", next),
		)
	}
	s.deadline = next
	s.timer = time.AfterFunc(max(0, next.Sub(now)), func() { s.fire(gen) })
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.guardedUpdate(ctx)
}

// computeNextDeadline は発火時の遅延から次回の期限を求める。
// 遅延が閾値以下なら前回の期限+周期、閾値を超えたら現在時刻+周期とする。
func computeNextDeadline(prev, now time.Time, interval, threshold time.Duration) time.Time {
	if now.Sub(prev) > threshold {
		return now.Add(interval)
	}
	return prev.Add(interval)
}

// guardedUpdate は更新が実行中でなければ更新を1回実行し、成功後に分類を起動する。
// 更新・分類のエラーとパニックはログに記録するだけで、周期には影響させない。
func (s *Scheduler) guardedUpdate(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("定期更新中にパニックが発生しました",
				slog.String("panic", fmt.Sprintf("%v", rec)),
			)
		}
	}()

	if s.updater.IsUpdating() {
		s.logger.Info("前回の更新が実行中のためスキップします")
		return
	}

	if err := s.updater.UpdateItems(ctx); err != nil {
		if errors.Is(err, ErrUpdateInProgress) {
			s.logger.Info("前回の更新が実行中のためスキップします")
			return
		}
		s.logger.Error("定期更新に失敗しました", slog.String("error", err.Error()))
		return
	}

	s.categorize(ctx)
}

// categorize は分類が実行中でなければ未分類記事の分類を実行する。
func (s *Scheduler) categorize(ctx context.Context) {
	if s.categorizer == nil {
		return
	}
	if s.categorizer.IsRunning() {
		s.logger.Info("分類が実行中のためスキップします")
		return
	}

	groups, err := s.categorizer.CategorizeUncategorized(ctx)
	if err != nil {
		s.logger.Error("記事の分類に失敗しました", slog.String("error", err.Error()))
		return
	}
	if len(groups) > 0 {
		s.logger.Info("記事を分類しました", slog.Int("group_count", len(groups)))
	}
}
