// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// ListFeeds は登録済みの全フィードを作成日時順に返す。
	ListFeeds(ctx context.Context) ([]*model.Feed, error)

	// FindByFeedURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
	FindByFeedURL(ctx context.Context, feedURL string) (*model.Feed, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// IncrementErrorCount はフィードの累積エラー数を1増やす。
	IncrementErrorCount(ctx context.Context, feedID string) error
}

// ItemRepository は記事データの永続化インターフェース。
type ItemRepository interface {
	// ExistsByURL は同じURLの記事が既に保存されているかを返す。
	ExistsByURL(ctx context.Context, url string) (bool, error)

	// Create は新規記事を作成する。
	Create(ctx context.Context, item *model.Item) error

	// ListUncategorized はカテゴリ未割り当ての記事を古い順に最大limit件返す。
	ListUncategorized(ctx context.Context, limit int) ([]*model.Item, error)

	// AssignCategory は記事群にカテゴリを割り当てる。
	AssignCategory(ctx context.Context, itemIDs []string, categoryID string) error

	// DeleteOlderThan はcutoffより前に公開（公開日時がなければ作成）された記事を削除し、件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CategoryRepository はカテゴリの永続化インターフェース。
type CategoryRepository interface {
	// FindOrCreateByName は名前でカテゴリを取得し、なければ作成する。
	FindOrCreateByName(ctx context.Context, name string) (*model.Category, error)
}
