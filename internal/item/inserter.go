// Package item はフィードから取得した記事の保存処理を提供する。
package item

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// Inserter はパース済みの記事のうち、URLが未登録のものだけを保存する。
// 既存記事の更新は行わない。
type Inserter struct {
	itemRepo  repository.ItemRepository
	sanitizer *Sanitizer
	logger    *slog.Logger
}

// NewInserter はInserterの新しいインスタンスを生成する。
func NewInserter(itemRepo repository.ItemRepository, sanitizer *Sanitizer, logger *slog.Logger) *Inserter {
	return &Inserter{
		itemRepo:  itemRepo,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// InsertNew はフィードの記事を保存し、新規に挿入した件数を返す。
// URLのない記事と、同じバッチ内で既に見たURLは読み飛ばす。
func (s *Inserter) InsertNew(ctx context.Context, feedID string, items []model.ParsedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(items))
	inserted := 0

	for _, parsed := range items {
		link := strings.TrimSpace(parsed.URL)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		exists, err := s.itemRepo.ExistsByURL(ctx, link)
		if err != nil {
			return inserted, fmt.Errorf("記事の存在確認に失敗: %w", err)
		}
		if exists {
			continue
		}

		item := &model.Item{
			ID:          uuid.New().String(),
			FeedID:      feedID,
			GUID:        parsed.GUID,
			Title:       strings.TrimSpace(parsed.Title),
			URL:         link,
			Content:     s.sanitizer.SanitizeContent(parsed.Content),
			Summary:     s.sanitizer.SanitizeSummary(parsed.Summary),
			Author:      parsed.Author,
			PublishedAt: parsed.PublishedAt,
			CreatedAt:   now,
		}
		if err := s.itemRepo.Create(ctx, item); err != nil {
			return inserted, fmt.Errorf("記事の挿入に失敗: %w", err)
		}
		inserted++
	}

	if inserted > 0 {
		s.logger.Info("新規記事を保存しました",
			slog.String("feed_id", feedID),
			slog.Int("inserted", inserted),
		)
	}
	return inserted, nil
}
