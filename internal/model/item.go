// Package model はドメインモデルを定義する。
package model

import "time"

// Item はフィードから取得して保存された記事を表す。
// URLはフィードを跨いで既存判定に使用する。
type Item struct {
	ID          string
	FeedID      string
	GUID        string
	Title       string
	URL         string
	Content     string // サニタイズ済みHTML
	Summary     string // サニタイズ済み
	Author      string
	PublishedAt *time.Time
	CategoryID  *string
	CreatedAt   time.Time
}

// ParsedItem はフィードパーサーから取得した未保存の記事データを表す。
// アップデータがフィードをパースした後、記事の挿入処理に渡される。
type ParsedItem struct {
	GUID        string
	Title       string
	URL         string
	Content     string // 未サニタイズのHTML
	Summary     string // 未サニタイズ
	Author      string
	PublishedAt *time.Time
}

// Group はカテゴリ分類の結果として、同じカテゴリに割り当てられた記事をまとめる。
type Group struct {
	Category string
	ItemIDs  []string
}
