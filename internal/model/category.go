package model

import "time"

// Category は記事の分類カテゴリを表す。名前は一意。
type Category struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
