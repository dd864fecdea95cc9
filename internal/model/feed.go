// Package model はドメインモデルを定義する。
package model

import "time"

// FeedKind はフィードの種別を表す。空文字列は未判定を意味する。
type FeedKind string

const (
	// FeedKindRSS はRSSフィード。
	FeedKindRSS FeedKind = "rss"
	// FeedKindAtom はAtomフィード。
	FeedKindAtom FeedKind = "atom"
	// FeedKindJSON はJSON Feed。
	FeedKindJSON FeedKind = "json"
)

// Feed は購読対象のフィードを表す。
// FeedURLはグローバルに一意で、重複判定と検索のキーとして使用する。
type Feed struct {
	ID         string
	Title      string
	SiteURL    string
	FeedURL    string
	Kind       FeedKind
	ErrorCount int
	CategoryID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResolvedFeed はフィード検出で候補URLのパースに成功した結果を表す。
// 永続化されるまではFeedではない。
type ResolvedFeed struct {
	Title   string   `json:"title"`
	FeedURL string   `json:"feed_url"`
	SiteURL string   `json:"site_url"`
	Kind    FeedKind `json:"kind,omitempty"`
}

// ParsedFeed はフィードパーサーの出力を表す。
type ParsedFeed struct {
	Title string
	Link  string
	Kind  FeedKind
	Items []ParsedItem
}

// LinkInfo はHTMLページから抽出したリンクを表す。
type LinkInfo struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}
