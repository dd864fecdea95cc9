package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// ExistsByURL は同じURLの記事が既に保存されているかを返す。
func (r *PostgresItemRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE url = $1)`,
		url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("記事の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は新規記事を作成する。同じURLの記事が並行して作成された場合は何もしない。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, feed_id, guid, title, url, content, summary, author,
		                    published_at, category_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (url) DO NOTHING`,
		item.ID, item.FeedID, nullString(item.GUID), item.Title, item.URL,
		nullString(item.Content), nullString(item.Summary), nullString(item.Author),
		item.PublishedAt, nullStringFromPtr(item.CategoryID), item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// ListUncategorized はカテゴリ未割り当ての記事を古い順に最大limit件返す。
func (r *PostgresItemRepo) ListUncategorized(ctx context.Context, limit int) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, feed_id, guid, title, url, content, summary, author, published_at, created_at
		 FROM items
		 WHERE category_id IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未分類記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item := &model.Item{}
		var publishedAt sql.NullTime
		var guid, content, summary, author sql.NullString

		if err := rows.Scan(
			&item.ID, &item.FeedID, &guid, &item.Title, &item.URL,
			&content, &summary, &author, &publishedAt, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("記事の読み取りに失敗しました: %w", err)
		}

		item.GUID = nullStringValue(guid)
		item.Content = nullStringValue(content)
		item.Summary = nullStringValue(summary)
		item.Author = nullStringValue(author)
		if publishedAt.Valid {
			t := publishedAt.Time
			item.PublishedAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未分類記事の走査に失敗しました: %w", err)
	}

	return items, nil
}

// AssignCategory は記事群にカテゴリを割り当てる。
func (r *PostgresItemRepo) AssignCategory(ctx context.Context, itemIDs []string, categoryID string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET category_id = $1 WHERE id = ANY($2)`,
		categoryID, pq.Array(itemIDs),
	)
	if err != nil {
		return fmt.Errorf("カテゴリの割り当てに失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan はcutoffより前に公開（公開日時がなければ作成）された記事を削除し、件数を返す。
func (r *PostgresItemRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE COALESCE(published_at, created_at) < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
