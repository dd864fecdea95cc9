// Package fetch はフィードの定期更新（バッチアップデータとスケジューラ）を提供する。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hitoshi/feedsync/internal/feed"
	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// ErrUpdateInProgress は前回の更新がまだ実行中であることを示す。
var ErrUpdateInProgress = errors.New("update already in progress")

// FeedParser は取得済みボディのパースを行うインターフェース。
type FeedParser interface {
	ParseBody(body []byte) (*model.ParsedFeed, error)
}

// ItemInserter は未登録の記事を保存するインターフェース。
type ItemInserter interface {
	InsertNew(ctx context.Context, feedID string, items []model.ParsedItem) (int, error)
}

// UpdaterConfig はUpdaterの設定。
type UpdaterConfig struct {
	// MinSpacing は同一ホストへのリクエスト間隔の下限。
	MinSpacing time.Duration
	// FetchTimeout はフィード1件の取得タイムアウト。
	FetchTimeout time.Duration
	// MaxConcurrency は同時に実行するフィード取得数の上限。ペーシングの待機中は枠を占有しない。
	MaxConcurrency int
}

// DefaultUpdaterConfig はデフォルトの設定を返す。
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		MinSpacing:     time.Second,
		FetchTimeout:   10 * time.Second,
		MaxConcurrency: 8,
	}
}

// Updater は登録済みの全フィードを取得して新規記事を保存するバッチアップデータ。
// 同一ホストのフィードは時間的に直列化し、異なるホストは並行に処理する。
// ホストごとにゴルーチンを1つ割り当て、同時実行数の枠は取得から保存までの間だけ保持する。
// 1件のフィードの失敗はそのフィードのエラー数に記録し、バッチは継続する。
type Updater struct {
	feedRepo repository.FeedRepository
	client   httpclient.Getter
	parser   FeedParser
	inserter ItemInserter
	pacer    *DomainPacer
	slots    *semaphore.Weighted
	metrics  metrics.Recorder
	logger   *slog.Logger
	cfg      UpdaterConfig

	updating atomic.Bool
}

// NewUpdater は新しいUpdaterを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewUpdater(
	feedRepo repository.FeedRepository,
	client httpclient.Getter,
	parser FeedParser,
	inserter ItemInserter,
	recorder metrics.Recorder,
	logger *slog.Logger,
	cfg UpdaterConfig,
) *Updater {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Updater{
		feedRepo: feedRepo,
		client:   client,
		parser:   parser,
		inserter: inserter,
		pacer:    NewDomainPacer(cfg.MinSpacing),
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		metrics:  recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// IsUpdating は更新が実行中かどうかを返す。
func (u *Updater) IsUpdating() bool {
	return u.updating.Load()
}

// UpdateItems は全フィードを1回更新する。
// 前回の実行が終わっていない場合は何もせずにErrUpdateInProgressを返す。
// 個々のフィードの失敗はエラーとして返さない。
func (u *Updater) UpdateItems(ctx context.Context) error {
	if !u.updating.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer u.updating.Store(false)

	start := time.Now()

	feeds, err := u.feedRepo.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	if len(feeds) == 0 {
		u.logger.Info("更新対象のフィードがありません")
		return nil
	}

	groups := groupByHost(feeds)

	u.logger.Info("フィード更新を開始します",
		slog.Int("feed_count", len(feeds)),
		slog.Int("host_count", len(groups)),
	)

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, f := range group.feeds {
				if gctx.Err() != nil {
					return nil
				}
				if !u.updateFeed(gctx, group.host, f) {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start)
	u.metrics.RecordUpdateRun(duration)
	u.logger.Info("フィード更新が完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Int64("failed_count", failed.Load()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return ctx.Err()
}

// acquire はホストのペーシングと同時実行数の枠の両方が揃うまで待つ。
// ペーシングの待機中は枠を解放しておき、他のホストの取得を妨げない。
// 成功した場合は呼び出し側が枠を解放する。
func (u *Updater) acquire(ctx context.Context, host string) error {
	var waited time.Duration
	defer func() {
		if waited > 0 {
			u.metrics.RecordPacingWait(waited)
		}
	}()

	for {
		if err := u.slots.Acquire(ctx, 1); err != nil {
			return err
		}
		delay, ok := u.pacer.Take(host)
		if ok {
			return nil
		}
		u.slots.Release(1)
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
		waited += delay
	}
}

// updateFeed は1件のフィードを取得・パースして新規記事を保存する。
// 取得またはパースに失敗した場合はエラー数を増やしてfalseを返す。
func (u *Updater) updateFeed(ctx context.Context, host string, f *model.Feed) bool {
	if err := u.acquire(ctx, host); err != nil {
		return true
	}
	defer u.slots.Release(1)

	start := time.Now()
	resp, err := u.client.Get(ctx, f.FeedURL, httpclient.Options{Timeout: u.cfg.FetchTimeout})
	u.metrics.RecordFetchLatency(time.Since(start))
	if err != nil {
		u.recordFailure(ctx, f, ClassifyTransportError(err), err)
		return false
	}
	u.metrics.RecordHTTPStatus(resp.StatusCode)

	if reason := ClassifyHTTPStatus(resp.StatusCode); reason != FailureNone {
		u.recordFailure(ctx, f, reason, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode))
		return false
	}

	parsed, err := u.parser.ParseBody(resp.Body)
	if err != nil {
		u.metrics.RecordParseFailure()
		u.recordFailure(ctx, f, FailureParse, err)
		return false
	}
	u.metrics.RecordFetchSuccess()

	inserted, err := u.inserter.InsertNew(ctx, f.ID, parsed.Items)
	if inserted > 0 {
		u.metrics.RecordItemsInserted(inserted)
	}
	if err != nil {
		// 保存側の障害はフィードの不具合ではないためエラー数には含めない
		u.logger.Error("記事の保存に失敗しました",
			slog.String("feed_id", f.ID),
			slog.String("feed_url", f.FeedURL),
			slog.Int("inserted", inserted),
			slog.String("error", err.Error()),
		)
		return true
	}

	u.logger.Debug("フィードを更新しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.FeedURL),
		slog.Int("items_total", len(parsed.Items)),
		slog.Int("items_inserted", inserted),
	)
	return true
}

// recordFailure はフィードの失敗をログとメトリクスに記録し、エラー数を1増やす。
func (u *Updater) recordFailure(ctx context.Context, f *model.Feed, reason FailureReason, cause error) {
	u.metrics.RecordFetchFailure(string(reason))
	u.logger.Warn("フィードの更新に失敗しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.FeedURL),
		slog.String("reason", string(reason)),
		slog.String("error", cause.Error()),
	)
	if err := u.feedRepo.IncrementErrorCount(ctx, f.ID); err != nil {
		u.logger.Error("フィードのエラー数の更新に失敗しました",
			slog.String("feed_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

// hostGroup は同じホストのフィードを登録順にまとめたもの。
type hostGroup struct {
	host  string
	feeds []*model.Feed
}

// groupByHost はフィードをペーシング用のホスト名でまとめる。ホストの順序は最初の出現順。
func groupByHost(feeds []*model.Feed) []*hostGroup {
	index := make(map[string]*hostGroup)
	var groups []*hostGroup
	for _, f := range feeds {
		host := feed.HostKey(f.FeedURL)
		g, ok := index[host]
		if !ok {
			g = &hostGroup{host: host}
			index[host] = g
			groups = append(groups, g)
		}
		g.feeds = append(g.feeds, f)
	}
	return groups
}
