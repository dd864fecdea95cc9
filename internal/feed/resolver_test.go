package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/model"
)

// --- Resolver テスト用モック ---

type fakePage struct {
	status      int
	contentType string
	body        string
}

// fakeGetter はURLごとに固定のレスポンスを返すhttpclient.Getterのモック。
// 未登録のURLは名前解決失敗として扱う。
type fakeGetter struct {
	mu    sync.Mutex
	pages map[string]fakePage
	calls map[string]int
}

func newFakeGetter(pages map[string]fakePage) *fakeGetter {
	return &fakeGetter{pages: pages, calls: make(map[string]int)}
}

func (f *fakeGetter) Get(_ context.Context, rawURL string, _ httpclient.Options) (*httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++

	p, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("dial tcp: lookup failed: no such host")
	}
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	h := http.Header{}
	h.Set("Content-Type", p.contentType)
	return &httpclient.Response{
		StatusCode: status,
		Header:     h,
		Body:       []byte(p.body),
		FinalURL:   rawURL,
	}, nil
}

func (f *fakeGetter) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeGetter) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeCache はメモリ上のResolveCache。
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]model.ResolvedFeed
}

func (c *fakeCache) Get(_ context.Context, key string) ([]model.ResolvedFeed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.entries[key]
	return f, ok
}

func (c *fakeCache) Set(_ context.Context, key string, feeds []model.ResolvedFeed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = feeds
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestResolver(getter httpclient.Getter, cache ResolveCache) *Resolver {
	logger := testLogger()
	validator := NewCandidateValidator(getter, logger)
	registry := DefaultRegistry(getter, validator, logger)
	return NewResolver(getter, registry, validator, cache, logger, ResolverConfig{})
}

const rssType = "application/rss+xml"

func TestResolve_DirectFeed(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/feed.xml": {contentType: rssType, body: testRSSBody},
	})
	r := newTestResolver(getter, nil)

	got := r.Resolve(context.Background(), "https://example.com/feed.xml")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
	if got[0].FeedURL != "https://example.com/feed.xml" || got[0].Title != "Test Feed" {
		t.Errorf("got %+v", got[0])
	}
	if got[0].SiteURL != "https://example.com" {
		t.Errorf("SiteURL = %q, want %q", got[0].SiteURL, "https://example.com")
	}
}

// フィードらしいContent-Typeでもパースできなければ結果は空
func TestResolve_DirectFeedParseFailure(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/broken.xml": {contentType: "application/xml", body: "<html>oops</html>"},
	})
	r := newTestResolver(getter, nil)

	got := r.Resolve(context.Background(), "https://example.com/broken.xml")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
}

// 独自ドメインでプラットフォームの手がかりがなくても、HTMLのlink要素から別ホストのフィードを見つける
func TestResolve_GenericDomainFindsLinkedFeed(t *testing.T) {
	page := `<html><head>
		<link rel="alternate" type="application/rss+xml" href="https://feeds.example.net/main.xml">
	</head><body><p>article</p></body></html>`
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/article":      {contentType: "text/html; charset=utf-8", body: page},
		"https://feeds.example.net/main.xml": {contentType: rssType, body: testRSSBody},
	})
	r := newTestResolver(getter, nil)

	u, _ := NormalizeInput("https://example.com/article")
	for _, p := range r.registry.Resolvers() {
		if c := p.BuildCandidates(u, CandidateHint{}); len(c) != 0 {
			t.Errorf("%s: expected no platform candidates, got %v", p.Name(), c)
		}
	}

	got := r.Resolve(context.Background(), "https://example.com/article")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
	if got[0].FeedURL != "https://feeds.example.net/main.xml" {
		t.Errorf("FeedURL = %q", got[0].FeedURL)
	}
}

// 自分自身へリンクするページでも最大深さで停止する
func TestResolve_SelfLoopStopsAtMaxDepth(t *testing.T) {
	loop := "https://loop.example.com/feed"
	getter := newFakeGetter(map[string]fakePage{
		loop: {contentType: "text/html", body: `<html><body><a href="/feed">feed</a></body></html>`},
	})
	r := newTestResolver(getter, nil)

	got := r.Resolve(context.Background(), loop)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
	if n := getter.callCount(loop); n != DefaultMaxDepth+1 {
		t.Errorf("GET count = %d, want %d", n, DefaultMaxDepth+1)
	}
}

// 2ページ間の循環リンクでも取得回数は深さで抑えられる
func TestResolve_CycleBoundedByDepth(t *testing.T) {
	a := "https://cycle.example.com/a/feed"
	b := "https://cycle.example.com/b/feed"
	getter := newFakeGetter(map[string]fakePage{
		a: {contentType: "text/html", body: `<a href="/b/feed">b</a>`},
		b: {contentType: "text/html", body: `<a href="/a/feed">a</a>`},
	})
	r := newTestResolver(getter, nil)

	r.Resolve(context.Background(), a)
	if n := getter.totalCalls(); n != DefaultMaxDepth+1 {
		t.Errorf("total GET count = %d, want %d", n, DefaultMaxDepth+1)
	}
	if getter.callCount(a) != 2 || getter.callCount(b) != 1 {
		t.Errorf("calls a=%d b=%d, want a=2 b=1", getter.callCount(a), getter.callCount(b))
	}
}

// ドメイン名の入力はhttps://に正規化され、設定した深さまでリンクを辿る
func TestResolve_RespectsConfiguredDepth(t *testing.T) {
	page := `<link type="application/rss+xml" href="/rss.xml"><a href="/more/feed">more</a>`
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com":           {contentType: "text/html", body: page},
		"https://example.com/rss.xml":   {contentType: rssType, body: testRSSBody},
		"https://example.com/more/feed": {contentType: "text/html", body: `<a href="/deeper.xml">x</a>`},
	})
	logger := testLogger()
	validator := NewCandidateValidator(getter, logger)
	r := NewResolver(getter, DefaultRegistry(getter, validator, logger), validator, nil, logger,
		ResolverConfig{MaxDepth: 1})

	got := r.Resolve(context.Background(), "example.com")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if getter.callCount("https://example.com/rss.xml") != 1 {
		t.Errorf("rss.xml should be fetched once")
	}
	if getter.callCount("https://example.com/deeper.xml") != 0 {
		t.Errorf("links beyond the configured depth should not be fetched")
	}
}

// 不正な入力や到達できないURLでもpanicせず空のスライスを返す
func TestResolve_NeverFailsOnBadInput(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{})
	r := newTestResolver(getter, nil)

	for _, input := range []string{"", "not a url", "ftp://example.com", "https://unreachable.example.com/x", "localhost"} {
		t.Run(input, func(t *testing.T) {
			got := r.Resolve(context.Background(), input)
			if got == nil {
				t.Fatal("expected non-nil result")
			}
			if len(got) != 0 {
				t.Errorf("expected empty result, got %+v", got)
			}
		})
	}
	// 正規化できない入力は取得しない
	if n := getter.totalCalls(); n != 1 {
		t.Errorf("total GET count = %d, want 1", n)
	}
}

// 非HTMLかつ非フィードのレスポンスはリンク走査しない
func TestResolve_NonHTMLIsRejected(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/data.json": {contentType: "application/json", body: `{"rss":"/feed.xml"}`},
	})
	r := newTestResolver(getter, nil)

	if got := r.Resolve(context.Background(), "https://example.com/data.json"); len(got) != 0 {
		t.Errorf("expected empty, got %+v", got)
	}
}

// プラットフォームリゾルバーが見つけた時点でHTML走査は行わない
func TestResolve_PlatformResolverWins(t *testing.T) {
	page := `<link type="application/rss+xml" href="https://sub.medium.com/other.xml">`
	getter := newFakeGetter(map[string]fakePage{
		"https://sub.medium.com/article":   {contentType: "text/html", body: page},
		"https://sub.medium.com/feed":      {contentType: rssType, body: testRSSBody},
		"https://sub.medium.com/other.xml": {contentType: rssType, body: testRSSBody},
	})
	r := newTestResolver(getter, nil)

	got := r.Resolve(context.Background(), "https://sub.medium.com/article")
	if len(got) != 1 || got[0].FeedURL != "https://sub.medium.com/feed" {
		t.Fatalf("got %+v", got)
	}
	if getter.callCount("https://sub.medium.com/other.xml") != 0 {
		t.Error("HTML link scan should not run after a platform hit")
	}
}

// 独自ドメインのMediumブログはHTMLのマーカーから/feedを推定する
func TestResolve_PoweredByCustomDomain(t *testing.T) {
	page := `<html><head>
		<meta property="al:android:app_name" content="Medium">
		<link rel="stylesheet" href="https://cdn-client.medium.com/lite/static/css/main.css">
	</head><body></body></html>`
	getter := newFakeGetter(map[string]fakePage{
		"https://blog.example.com/post": {contentType: "text/html", body: page},
		"https://blog.example.com/feed": {contentType: rssType, body: testRSSBody},
	})
	r := newTestResolver(getter, nil)

	got := r.Resolve(context.Background(), "https://blog.example.com/post")
	if len(got) != 1 || got[0].FeedURL != "https://blog.example.com/feed" {
		t.Fatalf("got %+v", got)
	}
}

// 同じフィードに複数経路で到達しても結果は1件
func TestResolve_DeduplicatesByFeedURL(t *testing.T) {
	page := `<link type="application/rss+xml" href="/rss.xml">
		<a href="/rss.xml">RSS</a>
		<a href="/blog/feed">Blog feed</a>`
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/":          {contentType: "text/html", body: page},
		"https://example.com/rss.xml":   {contentType: rssType, body: testRSSBody},
		"https://example.com/blog/feed": {contentType: "text/html", body: `<link type="application/rss+xml" href="/rss.xml">`},
	})
	r := newTestResolver(getter, nil)

	got := r.Resolve(context.Background(), "https://example.com/")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
}

func TestResolve_UsesCache(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/feed.xml": {contentType: rssType, body: testRSSBody},
	})
	cache := &fakeCache{entries: make(map[string][]model.ResolvedFeed)}
	r := newTestResolver(getter, cache)

	first := r.Resolve(context.Background(), "https://example.com/feed.xml")
	second := r.Resolve(context.Background(), "https://example.com/feed.xml")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if n := getter.callCount("https://example.com/feed.xml"); n != 1 {
		t.Errorf("GET count = %d, want 1 (second call should hit cache)", n)
	}
}

// 見つからなかった結果はキャッシュしない
func TestResolve_DoesNotCacheEmpty(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{})
	cache := &fakeCache{entries: make(map[string][]model.ResolvedFeed)}
	r := newTestResolver(getter, cache)

	r.Resolve(context.Background(), "https://example.com/")
	if len(cache.entries) != 0 {
		t.Errorf("empty result should not be cached: %v", cache.entries)
	}
}

func TestResolver_FetchLinks(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com": {contentType: "text/html", body: `<a href="/a"> A </a><a href="https://b.example.org/">B</a>`},
	})
	r := newTestResolver(getter, nil)

	links, err := r.FetchLinks(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) != 2 || links[0].URL != "https://example.com/a" || links[0].Text != "A" {
		t.Errorf("links = %+v", links)
	}
}

func TestResolver_FetchLinks_InvalidURL(t *testing.T) {
	r := newTestResolver(newFakeGetter(nil), nil)

	_, err := r.FetchLinks(context.Background(), "not a url")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidURL {
		t.Errorf("expected INVALID_URL error, got %v", err)
	}
}

func TestResolver_FetchLinks_HTTPError(t *testing.T) {
	getter := newFakeGetter(map[string]fakePage{
		"https://example.com/": {status: http.StatusNotFound, contentType: "text/html"},
	})
	r := newTestResolver(getter, nil)

	if _, err := r.FetchLinks(context.Background(), "https://example.com/"); err == nil {
		t.Error("expected error for 404")
	}
}
