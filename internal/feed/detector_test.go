package feed

import (
	"reflect"
	"testing"
)

const testRSSBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<link>https://example.com</link>
<item><title>Item 1</title><link>https://example.com/1</link></item>
</channel>
</rss>`

const testAtomBody = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Atom Feed</title>
<link href="https://example.com/"/>
<entry><title>Entry 1</title><link href="https://example.com/e1"/><id>urn:e1</id><updated>2026-01-01T00:00:00Z</updated></entry>
</feed>`

func TestIsFeedContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/rss+xml", true},
		{"application/atom+xml; charset=utf-8", true},
		{"APPLICATION/RSS+XML", true},
		{"application/feed+json", true},
		{"text/xml", true},
		{"application/xml", true},
		{"text/html", false},
		{"application/json", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsFeedContentType(tt.contentType); got != tt.want {
			t.Errorf("IsFeedContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestIsHTMLContentType(t *testing.T) {
	if !IsHTMLContentType("text/html; charset=utf-8") {
		t.Error("text/html should be HTML")
	}
	if !IsHTMLContentType("application/xhtml+xml") {
		t.Error("application/xhtml+xml should be HTML")
	}
	if IsHTMLContentType("application/rss+xml") {
		t.Error("application/rss+xml should not be HTML")
	}
}

func TestIsDirectFeed_RSSContentType(t *testing.T) {
	if !IsDirectFeed("application/rss+xml", nil) {
		t.Error("expected true for application/rss+xml")
	}
}

// Content-Typeが曖昧な場合はボディを検査する
func TestIsDirectFeed_SniffsAmbiguousContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"text/plainでRSS", "text/plain", testRSSBody, true},
		{"Content-TypeなしでAtom", "", testAtomBody, true},
		{"octet-streamでJSON Feed", "application/octet-stream", `{"version":"https://jsonfeed.org/version/1.1","title":"x"}`, true},
		{"text/plainでHTML", "text/plain", "<html><body>hello</body></html>", false},
		{"Atom名前空間のないfeed要素", "", "<feed><title>x</title></feed>", false},
		{"空ボディ", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDirectFeed(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("IsDirectFeed(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

// HTMLはボディにRSSが含まれていてもフィードとして扱わない
func TestIsDirectFeed_HTMLContentType(t *testing.T) {
	if IsDirectFeed("text/html", []byte(testRSSBody)) {
		t.Error("expected false for text/html")
	}
}

func TestScanFeedLinks_LinkTypes(t *testing.T) {
	html := `<html><head>
		<link rel="alternate" type="application/rss+xml" href="/feed.xml">
		<link rel="alternate" type="application/atom+xml" href="https://other.example.org/atom">
		<link rel="stylesheet" href="/style.css">
	</head><body></body></html>`

	got := ScanFeedLinks([]byte(html), "https://example.com/blog/post")
	want := []string{
		"https://example.com/feed.xml",
		"https://other.example.org/atom",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanFeedLinks = %v, want %v", got, want)
	}
}

// hrefにフィードを示す文字列を含むaリンクも候補になる
func TestScanFeedLinks_AnchorHints(t *testing.T) {
	html := `<html><body>
		<a href="rss/">RSS</a>
		<a href="/about">About</a>
		<a href="/index.xml#top">XML</a>
		<a href="mailto:feed@example.com">mail</a>
		<a href="javascript:void(feed)">js</a>
		<a href="#feed">anchor</a>
		<a href="/rss/">RSS (dup)</a>
	</body></html>`

	got := ScanFeedLinks([]byte(html), "https://example.com/")
	want := []string{
		"https://example.com/rss/",
		"https://example.com/index.xml",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanFeedLinks = %v, want %v", got, want)
	}
}

func TestScanFeedLinks_BaseHref(t *testing.T) {
	html := `<html><head>
		<base href="https://cdn.example.com/site/">
		<link rel="alternate" type="application/rss+xml" href="feed.xml">
	</head></html>`

	got := ScanFeedLinks([]byte(html), "https://example.com/page")
	want := []string{"https://cdn.example.com/site/feed.xml"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanFeedLinks = %v, want %v", got, want)
	}
}

func TestScanFeedLinks_NoLinks(t *testing.T) {
	html := `<html><head><title>No feeds</title></head><body><a href="/about">About</a></body></html>`
	if got := ScanFeedLinks([]byte(html), "https://example.com/"); len(got) != 0 {
		t.Errorf("expected no links, got %v", got)
	}
}
