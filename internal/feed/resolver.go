package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/model"
)

const (
	// DefaultMaxDepth はHTMLリンクを辿る最大の深さ。
	DefaultMaxDepth = 2
	// defaultMaxLinksPerPage は1ページから辿るフィード候補リンクの上限。
	defaultMaxLinksPerPage = 25
	// defaultRecurseConcurrency は1ページ内のリンクを並行に解決する数。
	defaultRecurseConcurrency = 4
)

// ResolverConfig はResolverの設定。ゼロ値の項目はデフォルト値を使用する。
type ResolverConfig struct {
	MaxDepth        int
	MaxLinksPerPage int
	Concurrency     int
}

// Resolver は1つのURLから到達できるフィードを検出する。
//
// 直接のフィード判定、プラットフォーム別リゾルバー、HTML内リンクの再帰的な解決の順で試す。
// 訪問済みURLは記録せず、循環するリンク構造も深さの上限だけで停止する。
// 実行時のエラーはすべて空の結果として吸収する。
type Resolver struct {
	client    httpclient.Getter
	registry  *Registry
	validator *CandidateValidator
	cache     ResolveCache
	logger    *slog.Logger
	cfg       ResolverConfig
}

// NewResolver はResolverを生成する。cacheがnilの場合はキャッシュしない。
func NewResolver(
	client httpclient.Getter,
	registry *Registry,
	validator *CandidateValidator,
	cache ResolveCache,
	logger *slog.Logger,
	cfg ResolverConfig,
) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = defaultMaxLinksPerPage
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultRecurseConcurrency
	}
	return &Resolver{
		client:    client,
		registry:  registry,
		validator: validator,
		cache:     cache,
		logger:    logger,
		cfg:       cfg,
	}
}

// Resolve は入力（絶対URLまたはドメイン名）から検出したフィードを返す。
// 結果はFeedURLで重複除去され、見つからない場合は空のスライスを返す。
func (r *Resolver) Resolve(ctx context.Context, rawURL string) []model.ResolvedFeed {
	u, ok := NormalizeInput(rawURL)
	if !ok {
		r.logger.Debug("検出対象として不正な入力です", slog.String("input", rawURL))
		return []model.ResolvedFeed{}
	}

	key := u.String()
	if r.cache != nil {
		if cached, hit := r.cache.Get(ctx, key); hit {
			return cached
		}
	}

	feeds := r.resolve(ctx, u, 0)
	if feeds == nil {
		feeds = []model.ResolvedFeed{}
	}

	if r.cache != nil && len(feeds) > 0 {
		r.cache.Set(ctx, key, feeds)
	}

	r.logger.Info("フィード検出が完了しました",
		slog.String("url", key),
		slog.Int("feeds", len(feeds)),
	)
	return feeds
}

func (r *Resolver) resolve(ctx context.Context, u *url.URL, depth int) []model.ResolvedFeed {
	rawURL := u.String()

	// 直接のフィード判定とHTML走査で同じレスポンスを使う
	resp, err := r.client.Get(ctx, rawURL, httpclient.Options{})
	if err != nil {
		r.logger.Debug("ページの取得に失敗しました",
			slog.String("url", rawURL),
			slog.Int("depth", depth),
			slog.String("error", err.Error()),
		)
		resp = nil
	}

	if resp != nil && IsDirectFeed(resp.Header.Get("Content-Type"), resp.Body) {
		if f := r.validator.ParseResponse(rawURL, resp); f != nil {
			return []model.ResolvedFeed{*f}
		}
		return nil
	}

	for _, p := range r.registry.Resolvers() {
		if feeds := p.ResolveFeeds(ctx, rawURL, nil); len(feeds) > 0 {
			r.logger.Debug("プラットフォームリゾルバーで検出しました",
				slog.String("url", rawURL),
				slog.String("platform", p.Name()),
				slog.Int("depth", depth),
			)
			return feeds
		}
	}

	if depth >= r.cfg.MaxDepth || resp == nil || !resp.IsSuccess() ||
		!IsHTMLContentType(resp.Header.Get("Content-Type")) {
		return nil
	}
	html := resp.Body

	// 独自ドメインなどURLだけでは判別できないケースをHTMLを手がかりに再試行する
	var found []model.ResolvedFeed
	for _, p := range r.registry.Resolvers() {
		found = append(found, p.ResolveFeeds(ctx, rawURL, html)...)
	}

	pageURL := rawURL
	if resp.FinalURL != "" {
		pageURL = resp.FinalURL
	}
	links := ScanFeedLinks(html, pageURL)
	if len(links) > r.cfg.MaxLinksPerPage {
		links = links[:r.cfg.MaxLinksPerPage]
	}

	nested := make([][]model.ResolvedFeed, len(links))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			lu, err := url.Parse(link)
			if err != nil {
				return nil
			}
			nested[i] = r.resolve(ctx, lu, depth+1)
			return nil
		})
	}
	_ = g.Wait()

	found = append(found, lo.Flatten(nested)...)
	return lo.UniqBy(found, func(f model.ResolvedFeed) string { return f.FeedURL })
}

// FetchLinks はページを取得し、含まれるすべてのa[href]リンクを返す。
func (r *Resolver) FetchLinks(ctx context.Context, rawURL string) ([]model.LinkInfo, error) {
	u, ok := NormalizeInput(rawURL)
	if !ok {
		return nil, model.NewInvalidURLError("URLの形式が正しくありません")
	}

	resp, err := r.client.Get(ctx, u.String(), httpclient.Options{
		Headers: map[string]string{"Accept": "text/html,application/xhtml+xml"},
	})
	if err != nil {
		return nil, fmt.Errorf("ページの取得に失敗: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	pageURL := u.String()
	if resp.FinalURL != "" {
		pageURL = resp.FinalURL
	}
	return ExtractLinks(resp.Body, pageURL)
}
