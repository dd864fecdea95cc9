package feed

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/model"
)

// defaultValidateConcurrency は候補URL検証の同時実行数。
const defaultValidateConcurrency = 4

// CandidateHint は候補URL生成時にURL以外から得られる情報。
type CandidateHint struct {
	// PoweredBy はページがそのプラットフォームでホストされている（独自ドメイン含む）ことを示す。
	PoweredBy bool
}

// PlatformResolver はフィードURLを隠すブログ・動画プラットフォームごとのリゾルバー。
// ResolveFeedsはエラーを返さず、候補ごとの失敗はその候補を除外するだけで吸収する。
type PlatformResolver interface {
	Name() string
	IsHost(hostname string) bool
	BuildCandidates(u *url.URL, hint CandidateHint) []string
	ResolveFeeds(ctx context.Context, rawURL string, html []byte) []model.ResolvedFeed
	IsPoweredBy(html []byte) bool
}

// Registry は優先順位付きのPlatformResolverの集合。
// 登録順がそのまま試行順になる。
type Registry struct {
	resolvers []PlatformResolver
}

// NewRegistry はリゾルバーを優先順に登録したRegistryを生成する。
func NewRegistry(resolvers ...PlatformResolver) *Registry {
	return &Registry{resolvers: resolvers}
}

// DefaultRegistry はMedium、Substack、YouTubeの順で登録したRegistryを生成する。
func DefaultRegistry(client httpclient.Getter, validator *CandidateValidator, logger *slog.Logger) *Registry {
	return NewRegistry(
		NewMediumResolver(validator),
		NewSubstackResolver(validator),
		NewYouTubeResolver(client, validator, logger),
	)
}

// Register はリゾルバーを最低優先度で追加する。
func (r *Registry) Register(p PlatformResolver) {
	r.resolvers = append(r.resolvers, p)
}

// Resolvers は登録済みリゾルバーを優先順で返す。
func (r *Registry) Resolvers() []PlatformResolver {
	return r.resolvers
}

// CandidateValidator は候補URLを実際に取得し、フィードとして有効なものだけを残す。
type CandidateValidator struct {
	client      httpclient.Getter
	parser      *Parser
	logger      *slog.Logger
	concurrency int
}

// NewCandidateValidator はCandidateValidatorを生成する。
func NewCandidateValidator(client httpclient.Getter, logger *slog.Logger) *CandidateValidator {
	return &CandidateValidator{
		client:      client,
		parser:      NewParser(client),
		logger:      logger,
		concurrency: defaultValidateConcurrency,
	}
}

// Validate は候補を並行に検証し、成功したものを候補の順序のまま返す。
// 取得失敗、フィード以外のContent-Type、パース失敗の候補は除外する。
func (v *CandidateValidator) Validate(ctx context.Context, candidates []string) []model.ResolvedFeed {
	if len(candidates) == 0 {
		return nil
	}

	results := make([]*model.ResolvedFeed, len(candidates))
	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			results[i] = v.validateOne(ctx, candidate)
			return nil
		})
	}
	_ = g.Wait()

	feeds := make([]model.ResolvedFeed, 0, len(results))
	for _, r := range results {
		if r != nil {
			feeds = append(feeds, *r)
		}
	}
	return feeds
}

// ParseResponse は取得済みレスポンスがフィードであればResolvedFeedに変換する。
func (v *CandidateValidator) ParseResponse(feedURL string, resp *httpclient.Response) *model.ResolvedFeed {
	if !resp.IsSuccess() || !IsDirectFeed(resp.Header.Get("Content-Type"), resp.Body) {
		return nil
	}

	parsed, err := v.parser.ParseBody(resp.Body)
	if err != nil {
		v.logger.Debug("候補URLのパースに失敗しました",
			slog.String("url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil
	}

	siteURL := parsed.Link
	if siteURL == "" {
		siteURL = originOf(feedURL)
	}
	return &model.ResolvedFeed{
		Title:   parsed.Title,
		FeedURL: feedURL,
		SiteURL: siteURL,
		Kind:    parsed.Kind,
	}
}

func (v *CandidateValidator) validateOne(ctx context.Context, candidate string) *model.ResolvedFeed {
	resp, err := v.client.Get(ctx, candidate, httpclient.Options{})
	if err != nil {
		v.logger.Debug("候補URLの取得に失敗しました",
			slog.String("url", candidate),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !IsFeedContentType(resp.Header.Get("Content-Type")) {
		return nil
	}
	return v.ParseResponse(candidate, resp)
}

// finalizeCandidates は候補から入力URL自身を除き、出現順を保って重複を除去する。
// 候補は小文字のホストで組み立てるため、入力側もスキームとホストを正規化して比較する。
func finalizeCandidates(input *url.URL, candidates []string) []string {
	self := canonicalURL(input)
	return lo.Filter(lo.Uniq(candidates), func(c string, _ int) bool {
		return c != "" && c != self
	})
}

// canonicalURL はスキームとホストを小文字にし、既定ポートを除いたURL文字列を返す。
func canonicalURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Host)
	switch {
	case c.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case c.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	c.Host = host
	return c.String()
}

// resolveByCandidates はURLとHTMLから候補を生成して検証する、プラットフォーム共通の処理。
func resolveByCandidates(ctx context.Context, p PlatformResolver, v *CandidateValidator, rawURL string, html []byte) []model.ResolvedFeed {
	u, ok := NormalizeInput(rawURL)
	if !ok {
		return nil
	}
	hint := CandidateHint{PoweredBy: len(html) > 0 && p.IsPoweredBy(html)}
	return v.Validate(ctx, p.BuildCandidates(u, hint))
}

// containsMarkers はHTMLがブランド指標と関連語の両方を含むかを判定する。
// 単にプラットフォーム名に言及しているだけのページを誤検出しないための条件。
func containsMarkers(html []byte, brands, related []string) bool {
	if len(html) == 0 {
		return false
	}
	lower := strings.ToLower(string(html))
	has := func(terms []string) bool {
		return lo.SomeBy(terms, func(t string) bool { return strings.Contains(lower, t) })
	}
	return has(brands) && has(related)
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
