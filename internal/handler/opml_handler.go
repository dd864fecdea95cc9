package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/opml"
)

// maxOPMLUpload はアップロードを受け付けるOPMLの上限サイズ。
const maxOPMLUpload = 2 << 20

// OPMLImporter はOPMLの一括購読インターフェース。
type OPMLImporter interface {
	Import(ctx context.Context, r io.Reader) (*opml.Summary, error)
}

// FeedLister は登録済みフィード一覧の取得インターフェース。
type FeedLister interface {
	ListFeeds(ctx context.Context) ([]*model.Feed, error)
}

// OPMLHandler はOPMLの取り込み・書き出しのHTTPハンドラー。
type OPMLHandler struct {
	importer OPMLImporter
	lister   FeedLister
	logger   *slog.Logger
}

// NewOPMLHandler はOPMLHandlerを生成する。
func NewOPMLHandler(importer OPMLImporter, lister FeedLister, logger *slog.Logger) *OPMLHandler {
	return &OPMLHandler{importer: importer, lister: lister, logger: logger}
}

// Import はOPMLを受け取り、含まれるフィードを1件ずつ検出・登録する。
// multipart/form-dataのfileフィールド、またはリクエストボディそのものを受け付ける。
// POST /api/opml/import
func (h *OPMLHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLUpload)

	body, err := readOPMLBody(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidOPMLError(err.Error()))
		return
	}

	summary, err := h.importer.Import(r.Context(), bytes.NewReader(body))
	if err != nil {
		middleware.WriteServiceError(w, h.logger, err)
		return
	}
	middleware.Annotate(r.Context(),
		slog.Int("opml_total", summary.Total),
		slog.Int("opml_failed", summary.Failed),
	)
	writeJSON(w, http.StatusOK, summary)
}

// Export は登録済みフィードをOPML 2.0で返す。
// GET /api/opml/export
func (h *OPMLHandler) Export(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.lister.ListFeeds(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := opml.Generate(&buf, "feedsync subscriptions", feeds); err != nil {
		middleware.WriteServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="feedsync.opml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// readOPMLBody はmultipartのfileフィールド、またはボディ全体を読み込む。
func readOPMLBody(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}
