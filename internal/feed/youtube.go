package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/model"
)

const (
	defaultYouTubeSiteBase = "https://www.youtube.com"
	youTubeFeedPath        = "/feeds/videos.xml"
	youTubeOEmbedPath      = "/oembed"
)

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// markupChannelPatterns はページのマークアップからチャンネルIDを取り出すパターン。上から順に試す。
var markupChannelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"channelId"\s*:\s*"(UC[0-9A-Za-z_-]{22})"`),
	regexp.MustCompile(`itemprop="channelId"\s+content="(UC[0-9A-Za-z_-]{22})"`),
	regexp.MustCompile(`<link\s+rel="canonical"\s+href="[^"]*/channel/(UC[0-9A-Za-z_-]{22})"`),
	regexp.MustCompile(`"externalId"\s*:\s*"(UC[0-9A-Za-z_-]{22})"`),
}

// YouTubeOption はYouTubeResolverの設定を変更する。
type YouTubeOption func(*YouTubeResolver)

// WithYouTubeEndpoints はサイト、フィード、oEmbedのベースURLを差し替える（テスト用）。
func WithYouTubeEndpoints(siteBase string) YouTubeOption {
	return func(r *YouTubeResolver) {
		r.siteBase = strings.TrimSuffix(siteBase, "/")
	}
}

// YouTubeResolver はYouTubeのチャンネル・再生リストのフィードを解決する。
// 動画単体のURLは、パス、マークアップ、oEmbed、プロフィールページの順でチャンネルを特定する。
type YouTubeResolver struct {
	client    httpclient.Getter
	validator *CandidateValidator
	logger    *slog.Logger
	siteBase  string
}

// NewYouTubeResolver はYouTubeResolverを生成する。
func NewYouTubeResolver(client httpclient.Getter, validator *CandidateValidator, logger *slog.Logger, opts ...YouTubeOption) *YouTubeResolver {
	r := &YouTubeResolver{
		client:    client,
		validator: validator,
		logger:    logger,
		siteBase:  defaultYouTubeSiteBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *YouTubeResolver) Name() string { return "youtube" }

func (r *YouTubeResolver) IsHost(hostname string) bool {
	return isHostOf(hostname, "youtube.com", "youtu.be")
}

// BuildCandidates はパスから直接わかるチャンネル・再生リスト・ユーザーのフィードURLを返す。
func (r *YouTubeResolver) BuildCandidates(u *url.URL, _ CandidateHint) []string {
	if !r.IsHost(u.Hostname()) {
		return nil
	}

	segs := pathSegments(u)
	var candidates []string
	switch {
	case len(segs) >= 2 && segs[0] == "channel":
		candidates = append(candidates, r.feedURL("channel_id", segs[1]))
	case len(segs) >= 1 && segs[0] == "playlist" && u.Query().Get("list") != "":
		candidates = append(candidates, r.feedURL("playlist_id", u.Query().Get("list")))
	case len(segs) >= 2 && segs[0] == "user":
		candidates = append(candidates, r.feedURL("user", segs[1]))
	}

	return finalizeCandidates(u, candidates)
}

func (r *YouTubeResolver) ResolveFeeds(ctx context.Context, rawURL string, html []byte) []model.ResolvedFeed {
	u, ok := NormalizeInput(rawURL)
	if !ok || !r.IsHost(u.Hostname()) {
		return nil
	}

	candidates := r.BuildCandidates(u, CandidateHint{})
	if len(candidates) == 0 {
		if id := r.resolveChannelID(ctx, u, html); id != "" {
			candidates = finalizeCandidates(u, []string{r.feedURL("channel_id", id)})
		}
	}
	return r.validator.Validate(ctx, candidates)
}

// IsPoweredBy は常にfalse。YouTubeには独自ドメインでのホスティングがない。
func (r *YouTubeResolver) IsPoweredBy(_ []byte) bool {
	return false
}

func (r *YouTubeResolver) feedURL(key, value string) string {
	return r.siteBase + youTubeFeedPath + "?" + key + "=" + url.QueryEscape(value)
}

// resolveChannelID はチャンネルIDを段階的に特定する。各段階は失敗しても空文字を返すだけで、
// 最初に見つかった時点で打ち切る。
func (r *YouTubeResolver) resolveChannelID(ctx context.Context, u *url.URL, html []byte) string {
	steps := []struct {
		name string
		find func() string
	}{
		{"path", func() string { return channelIDFromURL(u) }},
		{"markup", func() string { return channelIDFromMarkup(html) }},
		{"oembed", func() string { return r.channelIDFromOEmbed(ctx, u) }},
		{"profile", func() string { return r.channelIDFromProfile(ctx, u) }},
	}

	for _, step := range steps {
		if id := step.find(); id != "" {
			r.logger.Debug("YouTubeチャンネルIDを特定しました",
				slog.String("url", u.String()),
				slog.String("step", step.name),
				slog.String("channel_id", id),
			)
			return id
		}
	}
	return ""
}

// channelIDFromOEmbed は動画単体のURLをoEmbedで解決し、author_urlからチャンネルIDを得る。
// author_urlがハンドル形式の場合はそのページを取得してマークアップから探す。
func (r *YouTubeResolver) channelIDFromOEmbed(ctx context.Context, u *url.URL) string {
	if !isSingleVideo(u) {
		return ""
	}

	endpoint := r.siteBase + youTubeOEmbedPath + "?format=json&url=" + url.QueryEscape(u.String())
	resp, err := r.client.Get(ctx, endpoint, httpclient.Options{
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil || !resp.IsSuccess() {
		return ""
	}

	var meta struct {
		AuthorURL string `json:"author_url"`
	}
	if err := json.Unmarshal(resp.Body, &meta); err != nil || meta.AuthorURL == "" {
		return ""
	}

	authorURL, err := url.Parse(meta.AuthorURL)
	if err != nil {
		return ""
	}
	if id := channelIDFromURL(authorURL); id != "" {
		return id
	}
	return r.channelIDFromPage(ctx, meta.AuthorURL)
}

// channelIDFromProfile は/@handle、/user/<name>、/c/<name>のプロフィールページを取得して探す。
func (r *YouTubeResolver) channelIDFromProfile(ctx context.Context, u *url.URL) string {
	segs := pathSegments(u)
	switch {
	case len(segs) >= 1 && strings.HasPrefix(segs[0], "@") && len(segs[0]) > 1:
		return r.channelIDFromPage(ctx, r.siteBase+"/"+segs[0])
	case len(segs) >= 2 && (segs[0] == "user" || segs[0] == "c"):
		return r.channelIDFromPage(ctx, r.siteBase+"/"+segs[0]+"/"+segs[1])
	default:
		return ""
	}
}

func (r *YouTubeResolver) channelIDFromPage(ctx context.Context, pageURL string) string {
	resp, err := r.client.Get(ctx, pageURL, httpclient.Options{})
	if err != nil || !resp.IsSuccess() {
		return ""
	}
	return channelIDFromMarkup(resp.Body)
}

func channelIDFromURL(u *url.URL) string {
	segs := pathSegments(u)
	if len(segs) >= 2 && segs[0] == "channel" && channelIDPattern.MatchString(segs[1]) {
		return segs[1]
	}
	return ""
}

func channelIDFromMarkup(html []byte) string {
	if len(html) == 0 {
		return ""
	}
	for _, p := range markupChannelPatterns {
		if m := p.FindSubmatch(html); m != nil {
			return string(m[1])
		}
	}
	return ""
}

func isSingleVideo(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	segs := pathSegments(u)
	if isHostOf(host, "youtu.be") {
		return len(segs) == 1
	}
	if len(segs) == 0 {
		return false
	}
	switch segs[0] {
	case "watch":
		return u.Query().Get("v") != ""
	case "shorts", "live", "embed":
		return len(segs) >= 2
	}
	return false
}
