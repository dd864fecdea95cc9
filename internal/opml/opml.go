// Package opml はOPMLの読み込み・書き出しと一括購読を提供する。
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// maxOPMLSize は読み込むOPMLの上限サイズ。
const maxOPMLSize = 2 * 1024 * 1024

// Document はOPMLのルート要素。
type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head はOPMLのメタデータ。
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body はoutline要素の並び。
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline はフィードまたはフォルダを表すoutline要素。
type Outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Category string    `xml:"category,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry はOPMLから取り出したフィード1件。
type Entry struct {
	Title    string
	XMLURL   string
	Category string
}

// Parse はOPMLを読み込み、xmlUrlを持つoutlineを文書順に返す。
// category属性がないoutlineは、親フォルダのtext（なければtitle）をカテゴリとして引き継ぐ。
func Parse(r io.Reader) ([]Entry, error) {
	var doc Document
	decoder := xml.NewDecoder(io.LimitReader(r, maxOPMLSize))
	decoder.Strict = false
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}
	return extract(doc.Body.Outlines, ""), nil
}

func extract(outlines []Outline, parentCategory string) []Entry {
	var entries []Entry
	for _, o := range outlines {
		if u := strings.TrimSpace(o.XMLURL); u != "" {
			e := Entry{
				Title:    firstNonEmpty(o.Title, o.Text),
				XMLURL:   u,
				Category: firstNonEmpty(o.Category, parentCategory),
			}
			// category属性は"/"区切りの階層を取りうるため先頭要素を使う
			e.Category = firstNonEmpty(strings.Split(e.Category, "/")...)
			entries = append(entries, e)
		}

		if len(o.Outlines) > 0 {
			child := firstNonEmpty(o.Text, o.Title, parentCategory)
			entries = append(entries, extract(o.Outlines, child)...)
		}
	}
	return entries
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Generate は購読中のフィードをOPML 2.0として書き出す。
func Generate(w io.Writer, title string, feeds []*model.Feed) error {
	doc := Document{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
	}
	for _, f := range feeds {
		name := firstNonEmpty(f.Title, f.FeedURL)
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Type:    "rss",
			Text:    name,
			Title:   name,
			XMLURL:  f.FeedURL,
			HTMLURL: f.SiteURL,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("failed to write final newline: %w", err)
	}
	return nil
}
