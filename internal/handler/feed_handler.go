// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/feedsync/internal/feed"
	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/model"
)

// maxJSONBody はJSONリクエストボディの上限サイズ。
const maxJSONBody = 64 * 1024

// FeedResolver はフィード検出とリンク抽出のインターフェース。
type FeedResolver interface {
	Resolve(ctx context.Context, rawURL string) []model.ResolvedFeed
	FetchLinks(ctx context.Context, rawURL string) ([]model.LinkInfo, error)
}

// FeedSubscriber はフィード検出と登録のインターフェース。
type FeedSubscriber interface {
	Subscribe(ctx context.Context, inputURL, category string) ([]*model.Feed, error)
}

// FeedHandler はフィード検出・登録のHTTPハンドラー。
type FeedHandler struct {
	resolver   FeedResolver
	subscriber FeedSubscriber
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewFeedHandler(resolver FeedResolver, subscriber FeedSubscriber, recorder metrics.Recorder, logger *slog.Logger) *FeedHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &FeedHandler{
		resolver:   resolver,
		subscriber: subscriber,
		metrics:    recorder,
		logger:     logger,
	}
}

// resolveRequest はフィード検出リクエストのボディ。
type resolveRequest struct {
	URL string `json:"url"`
}

// resolveResponse はフィード検出のAPIレスポンス。
type resolveResponse struct {
	Feeds []model.ResolvedFeed `json:"feeds"`
}

// subscribeRequest はフィード登録リクエストのボディ。
type subscribeRequest struct {
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	FeedURL    string `json:"feed_url"`
	SiteURL    string `json:"site_url"`
	Kind       string `json:"kind,omitempty"`
	ErrorCount int    `json:"error_count"`
}

// linksResponse はリンク抽出のAPIレスポンス。
type linksResponse struct {
	URL   string           `json:"url"`
	Links []model.LinkInfo `json:"links"`
}

// Resolve は入力URLから到達できるフィードを検出して返す。登録は行わない。
// フィードが見つからない場合も200で空の配列を返す。
// POST /api/resolve
func (h *FeedHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	middleware.Annotate(r.Context(), slog.String("target_url", req.URL))
	if _, ok := feed.NormalizeInput(req.URL); !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLの形式が正しくありません"))
		return
	}

	feeds := h.resolver.Resolve(r.Context(), req.URL)
	h.metrics.RecordResolve(len(feeds))
	middleware.Annotate(r.Context(), slog.Int("feed_count", len(feeds)))

	writeJSON(w, http.StatusOK, resolveResponse{Feeds: feeds})
}

// Subscribe はフィードを検出して登録する。
// POST /api/feeds
func (h *FeedHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	middleware.Annotate(r.Context(), slog.String("target_url", req.URL))
	if strings.TrimSpace(req.URL) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	feeds, err := h.subscriber.Subscribe(r.Context(), req.URL, strings.TrimSpace(req.Category))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeFeedNotDetected {
			h.metrics.RecordResolve(0)
		}
		middleware.WriteServiceError(w, h.logger, err)
		return
	}
	h.metrics.RecordResolve(len(feeds))
	middleware.Annotate(r.Context(), slog.Int("feed_count", len(feeds)))

	resp := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		resp = append(resp, toFeedResponse(f))
	}
	writeJSON(w, http.StatusCreated, map[string][]feedResponse{"feeds": resp})
}

// Links はページ内のすべてのリンクを返す。
// GET /api/links?url=
func (h *FeedHandler) Links(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	middleware.Annotate(r.Context(), slog.String("target_url", rawURL))
	if strings.TrimSpace(rawURL) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("urlパラメータが必要です"))
		return
	}

	links, err := h.resolver.FetchLinks(r.Context(), rawURL)
	if err != nil {
		middleware.WriteServiceError(w, h.logger, toFetchError(err))
		return
	}
	if links == nil {
		links = []model.LinkInfo{}
	}
	middleware.Annotate(r.Context(), slog.Int("link_count", len(links)))
	writeJSON(w, http.StatusOK, linksResponse{URL: rawURL, Links: links})
}

// --- ヘルパー関数 ---

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(f *model.Feed) feedResponse {
	return feedResponse{
		ID:         f.ID,
		Title:      f.Title,
		FeedURL:    f.FeedURL,
		SiteURL:    f.SiteURL,
		Kind:       string(f.Kind),
		ErrorCount: f.ErrorCount,
	}
}

// toFetchError は取得処理のエラーをAPIErrorに変換する。既にAPIErrorの場合はそのまま返す。
func toFetchError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, httpclient.ErrBlocked) {
		return model.NewSSRFBlockedError()
	}
	return model.NewFetchFailedError(err.Error())
}

// decodeJSON はリクエストボディをJSONとして読み込む。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
