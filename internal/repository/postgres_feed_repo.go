package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedsync/internal/model"
)

const feedColumns = `id, feed_url, site_url, title, kind, error_count, category_id, created_at, updated_at`

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(s rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var siteURL, kind, categoryID sql.NullString

	if err := s.Scan(
		&feed.ID, &feed.FeedURL, &siteURL, &feed.Title, &kind,
		&feed.ErrorCount, &categoryID, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	feed.SiteURL = nullStringValue(siteURL)
	feed.Kind = model.FeedKind(nullStringValue(kind))
	feed.CategoryID = nullStringPtr(categoryID)
	return feed, nil
}

// ListFeeds は登録済みの全フィードを作成日時順に返す。
func (r *PostgresFeedRepo) ListFeeds(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// FindByFeedURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE feed_url = $1`,
		feedURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (`+feedColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		feed.ID, feed.FeedURL, nullString(feed.SiteURL), feed.Title, nullString(string(feed.Kind)),
		feed.ErrorCount, nullStringFromPtr(feed.CategoryID), feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// IncrementErrorCount はフィードの累積エラー数を1増やす。
func (r *PostgresFeedRepo) IncrementErrorCount(ctx context.Context, feedID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET error_count = error_count + 1, updated_at = now() WHERE id = $1`,
		feedID,
	)
	if err != nil {
		return fmt.Errorf("エラー数の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullStringFromPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
