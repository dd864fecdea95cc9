package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/model"
)

// --- モック定義 ---

// mockResolver はFeedResolverのモック実装。
type mockResolver struct {
	resolveFn    func(ctx context.Context, rawURL string) []model.ResolvedFeed
	fetchLinksFn func(ctx context.Context, rawURL string) ([]model.LinkInfo, error)
}

func (m *mockResolver) Resolve(ctx context.Context, rawURL string) []model.ResolvedFeed {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, rawURL)
	}
	return []model.ResolvedFeed{}
}

func (m *mockResolver) FetchLinks(ctx context.Context, rawURL string) ([]model.LinkInfo, error) {
	if m.fetchLinksFn != nil {
		return m.fetchLinksFn(ctx, rawURL)
	}
	return nil, nil
}

// mockSubscriber はFeedSubscriberのモック実装。
type mockSubscriber struct {
	subscribeFn func(ctx context.Context, inputURL, category string) ([]*model.Feed, error)
}

func (m *mockSubscriber) Subscribe(ctx context.Context, inputURL, category string) ([]*model.Feed, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, inputURL, category)
	}
	return nil, nil
}

// recordingMetrics はRecordResolveの呼び出しだけを記録する。
type recordingMetrics struct {
	metrics.Nop
	resolves []int
}

func (m *recordingMetrics) RecordResolve(n int) { m.resolves = append(m.resolves, n) }

// --- テストヘルパー ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- Resolve ---

func TestResolve_ReturnsFeeds(t *testing.T) {
	var gotURL string
	resolver := &mockResolver{resolveFn: func(ctx context.Context, rawURL string) []model.ResolvedFeed {
		gotURL = rawURL
		return []model.ResolvedFeed{{Title: "Blog", FeedURL: "https://example.com/feed", SiteURL: "https://example.com"}}
	}}
	rec := &recordingMetrics{}
	h := NewFeedHandler(resolver, &mockSubscriber{}, rec, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"url":"example.com"}`))
	w := httptest.NewRecorder()
	h.Resolve(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotURL != "example.com" {
		t.Errorf("resolver received %q", gotURL)
	}

	var resp resolveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Feeds) != 1 || resp.Feeds[0].FeedURL != "https://example.com/feed" {
		t.Errorf("feeds = %+v", resp.Feeds)
	}
	if len(rec.resolves) != 1 || rec.resolves[0] != 1 {
		t.Errorf("RecordResolve calls = %v", rec.resolves)
	}
}

func TestResolve_EmptyResultIsOKWithEmptyArray(t *testing.T) {
	h := NewFeedHandler(&mockResolver{}, &mockSubscriber{}, nil, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"url":"https://example.com/article"}`))
	w := httptest.NewRecorder()
	h.Resolve(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"feeds":[]`) {
		t.Errorf("空の配列で返すはず: %s", w.Body.String())
	}
}

func TestResolve_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"broken json", `{"url":`, model.ErrCodeInvalidRequest},
		{"not a url", `{"url":"not a domain"}`, model.ErrCodeInvalidURL},
		{"empty", `{"url":""}`, model.ErrCodeInvalidURL},
		{"ftp scheme", `{"url":"ftp://example.com/feed"}`, model.ErrCodeInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			resolver := &mockResolver{resolveFn: func(ctx context.Context, rawURL string) []model.ResolvedFeed {
				called = true
				return nil
			}}
			h := NewFeedHandler(resolver, &mockSubscriber{}, nil, newTestLogger())

			w := httptest.NewRecorder()
			h.Resolve(w, httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(tt.body)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
			if called {
				t.Error("不正な入力でリゾルバーが呼ばれた")
			}
		})
	}
}

// --- Subscribe ---

func TestSubscribe_CreatesFeeds(t *testing.T) {
	var gotCategory string
	sub := &mockSubscriber{subscribeFn: func(ctx context.Context, inputURL, category string) ([]*model.Feed, error) {
		gotCategory = category
		return []*model.Feed{{ID: "f1", Title: "Blog", FeedURL: "https://example.com/feed", Kind: model.FeedKindRSS}}, nil
	}}
	h := NewFeedHandler(&mockResolver{}, sub, nil, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/feeds", strings.NewReader(`{"url":"https://example.com","category":" Tech "}`))
	w := httptest.NewRecorder()
	h.Subscribe(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if gotCategory != "Tech" {
		t.Errorf("category = %q, want %q", gotCategory, "Tech")
	}

	var resp map[string][]feedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp["feeds"]) != 1 || resp["feeds"][0].ID != "f1" || resp["feeds"][0].Kind != "rss" {
		t.Errorf("feeds = %+v", resp["feeds"])
	}
}

func TestSubscribe_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not detected", model.NewFeedNotDetectedError("https://example.com"), http.StatusUnprocessableEntity, model.ErrCodeFeedNotDetected},
		{"invalid url", model.NewInvalidURLError("bad"), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &mockSubscriber{subscribeFn: func(ctx context.Context, inputURL, category string) ([]*model.Feed, error) {
				return nil, tt.err
			}}
			h := NewFeedHandler(&mockResolver{}, sub, nil, newTestLogger())

			w := httptest.NewRecorder()
			h.Subscribe(w, httptest.NewRequest(http.MethodPost, "/api/feeds", strings.NewReader(`{"url":"https://example.com"}`)))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestSubscribe_EmptyURL(t *testing.T) {
	h := NewFeedHandler(&mockResolver{}, &mockSubscriber{}, nil, newTestLogger())

	w := httptest.NewRecorder()
	h.Subscribe(w, httptest.NewRequest(http.MethodPost, "/api/feeds", strings.NewReader(`{"url":"  "}`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// --- Links ---

func TestLinks_ReturnsLinks(t *testing.T) {
	resolver := &mockResolver{fetchLinksFn: func(ctx context.Context, rawURL string) ([]model.LinkInfo, error) {
		return []model.LinkInfo{{URL: "https://example.com/a", Text: "A"}}, nil
	}}
	h := NewFeedHandler(resolver, &mockSubscriber{}, nil, newTestLogger())

	w := httptest.NewRecorder()
	h.Links(w, httptest.NewRequest(http.MethodGet, "/api/links?url=example.com", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp linksResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.URL != "example.com" || len(resp.Links) != 1 || resp.Links[0].Text != "A" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLinks_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
		code   string
	}{
		{"missing param", "", nil, http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"invalid url", "?url=%20bad", model.NewInvalidURLError("bad"), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"ssrf", "?url=http://127.0.0.1", fmt.Errorf("HTTPリクエスト失敗: %w", httpclient.ErrBlocked), http.StatusForbidden, model.ErrCodeSSRFBlocked},
		{"upstream", "?url=example.com", errors.New("unexpected HTTP status: 404"), http.StatusBadGateway, model.ErrCodeFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{fetchLinksFn: func(ctx context.Context, rawURL string) ([]model.LinkInfo, error) {
				return nil, tt.err
			}}
			h := NewFeedHandler(resolver, &mockSubscriber{}, nil, newTestLogger())

			w := httptest.NewRecorder()
			h.Links(w, httptest.NewRequest(http.MethodGet, "/api/links"+tt.query, nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}
