package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// FeedResolver はフィード検出のインターフェース。
// テスタビリティのためResolverを抽象化する。
type FeedResolver interface {
	Resolve(ctx context.Context, rawURL string) []model.ResolvedFeed
}

// Service はフィード登録のサービス層。
// 検出 → 既存フィードの重複チェック → 保存のフローを統括する。
type Service struct {
	feedRepo     repository.FeedRepository
	categoryRepo repository.CategoryRepository
	resolver     FeedResolver
	logger       *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// categoryRepoがnilの場合、カテゴリ指定は無視される。
func NewService(
	feedRepo repository.FeedRepository,
	categoryRepo repository.CategoryRepository,
	resolver FeedResolver,
	logger *slog.Logger,
) *Service {
	return &Service{
		feedRepo:     feedRepo,
		categoryRepo: categoryRepo,
		resolver:     resolver,
		logger:       logger,
	}
}

// Subscribe はURLからフィードを検出し、未登録のものを保存する。
// 検出された全フィードを（既存・新規を問わず）検出順で返す。
// categoryが空でなければ新規フィードにそのカテゴリを割り当てる。
func (s *Service) Subscribe(ctx context.Context, inputURL, category string) ([]*model.Feed, error) {
	// 1. 入力URLの形式チェック
	if _, ok := NormalizeInput(inputURL); !ok {
		return nil, model.NewInvalidURLError("URLの形式が正しくありません")
	}

	// 2. フィード検出
	resolved := s.resolver.Resolve(ctx, inputURL)
	if len(resolved) == 0 {
		return nil, model.NewFeedNotDetectedError(inputURL)
	}

	// 3. カテゴリの取得または作成
	var categoryID *string
	if category != "" && s.categoryRepo != nil {
		c, err := s.categoryRepo.FindOrCreateByName(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
		}
		categoryID = &c.ID
	}

	// 4. feed_urlで重複チェックしつつ保存
	feeds := make([]*model.Feed, 0, len(resolved))
	for _, r := range resolved {
		existing, err := s.feedRepo.FindByFeedURL(ctx, r.FeedURL)
		if err != nil {
			return nil, fmt.Errorf("フィードの検索に失敗しました: %w", err)
		}
		if existing != nil {
			feeds = append(feeds, existing)
			continue
		}

		now := time.Now()
		f := &model.Feed{
			ID:         uuid.New().String(),
			FeedURL:    r.FeedURL,
			SiteURL:    r.SiteURL,
			Title:      r.Title,
			Kind:       r.Kind,
			CategoryID: categoryID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if f.Title == "" {
			// タイトルのないフィードはURLで代用する
			f.Title = r.FeedURL
		}
		if err := s.feedRepo.Create(ctx, f); err != nil {
			return nil, fmt.Errorf("フィードの保存に失敗しました: %w", err)
		}
		s.logger.Info("フィードを登録しました",
			slog.String("feed_id", f.ID),
			slog.String("feed_url", f.FeedURL),
		)
		feeds = append(feeds, f)
	}

	return feeds, nil
}
