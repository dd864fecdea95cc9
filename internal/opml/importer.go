package opml

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/hitoshi/feedsync/internal/model"
)

// Subscriber はURLからフィードを検出して登録するインターフェース。
type Subscriber interface {
	Subscribe(ctx context.Context, inputURL, category string) ([]*model.Feed, error)
}

// Result はoutline1件分の取り込み結果。
type Result struct {
	XMLURL   string   `json:"xml_url"`
	Category string   `json:"category,omitempty"`
	FeedURLs []string `json:"feed_urls,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Summary は取り込み全体の結果。
type Summary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Importer はOPMLのoutlineごとにフィード検出と登録を行う。
type Importer struct {
	subscriber Subscriber
	logger     *slog.Logger
}

// NewImporter はImporterを生成する。
func NewImporter(subscriber Subscriber, logger *slog.Logger) *Importer {
	return &Importer{subscriber: subscriber, logger: logger}
}

// Import はOPMLを解析し、xmlUrlごとに1回ずつ購読を試みる。
// 個々のoutlineの失敗は結果に記録して処理を続ける。OPML自体が不正な場合のみエラーを返す。
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Summary, error) {
	entries, err := Parse(r)
	if err != nil {
		return nil, model.NewInvalidOPMLError(err.Error())
	}

	summary := &Summary{Results: make([]Result, 0, len(entries))}
	seen := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		if _, dup := seen[e.XMLURL]; dup {
			continue
		}
		seen[e.XMLURL] = struct{}{}
		if ctx.Err() != nil {
			break
		}

		res := Result{XMLURL: e.XMLURL, Category: e.Category}
		feeds, err := im.subscriber.Subscribe(ctx, e.XMLURL, e.Category)
		if err != nil {
			res.Error = errorMessage(err)
			summary.Failed++
			im.logger.Warn("OPMLのフィード登録に失敗しました",
				slog.String("xml_url", e.XMLURL),
				slog.String("error", err.Error()),
			)
		} else {
			for _, f := range feeds {
				res.FeedURLs = append(res.FeedURLs, f.FeedURL)
			}
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, res)
	}
	summary.Total = len(summary.Results)

	im.logger.Info("OPMLの取り込みが完了しました",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

// errorMessage はAPIErrorであればユーザー向けメッセージを返す。
func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
