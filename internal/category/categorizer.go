package category

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// ErrAlreadyRunning は分類が既に実行中であることを示す。
var ErrAlreadyRunning = errors.New("categorization already running")

// defaultBatchSize は1回の分類で扱う記事数の上限。
const defaultBatchSize = 500

// KeywordCategorizer は未分類の記事をキーワードルールで分類する。
type KeywordCategorizer struct {
	itemRepo     repository.ItemRepository
	categoryRepo repository.CategoryRepository
	rules        *RuleSet
	logger       *slog.Logger
	batchSize    int

	running atomic.Bool
}

// NewKeywordCategorizer は新しいKeywordCategorizerを生成する。rulesがnilの場合は組み込みルールを使用する。
func NewKeywordCategorizer(
	itemRepo repository.ItemRepository,
	categoryRepo repository.CategoryRepository,
	rules *RuleSet,
	logger *slog.Logger,
) *KeywordCategorizer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &KeywordCategorizer{
		itemRepo:     itemRepo,
		categoryRepo: categoryRepo,
		rules:        rules,
		logger:       logger,
		batchSize:    defaultBatchSize,
	}
}

// IsRunning は分類が実行中かどうかを返す。
func (c *KeywordCategorizer) IsRunning() bool {
	return c.running.Load()
}

// CategorizeUncategorized は未分類の記事を分類し、カテゴリごとのグループを返す。
// グループはカテゴリの最初の出現順に並ぶ。
func (c *KeywordCategorizer) CategorizeUncategorized(ctx context.Context) ([]model.Group, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	items, err := c.itemRepo.ListUncategorized(ctx, c.batchSize)
	if err != nil {
		return nil, fmt.Errorf("未分類記事の取得に失敗しました: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	groups := c.group(items)

	for _, g := range groups {
		category, err := c.categoryRepo.FindOrCreateByName(ctx, g.Category)
		if err != nil {
			return nil, err
		}
		if err := c.itemRepo.AssignCategory(ctx, g.ItemIDs, category.ID); err != nil {
			return nil, err
		}
	}

	c.logger.Info("未分類記事を分類しました",
		slog.Int("item_count", len(items)),
		slog.Int("group_count", len(groups)),
	)
	return groups, nil
}

// group は記事をルールに一致したカテゴリでまとめる。
func (c *KeywordCategorizer) group(items []*model.Item) []model.Group {
	index := make(map[string]int)
	var groups []model.Group
	for _, it := range items {
		name := c.rules.Match(it.Title + "\n" + it.Summary)
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, model.Group{Category: name})
		}
		groups[i].ItemIDs = append(groups[i].ItemIDs, it.ID)
	}
	return groups
}
