// Package feed はフィード検出（プラットフォーム別リゾルバーと再帰的なHTML走査）と
// フィード登録のドメインロジックを提供する。
package feed

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"github.com/hitoshi/feedsync/internal/httpclient"
)

// feedContentTypes はフィードとして認識するメディアタイプ。
// 汎用XMLも含め、パースの成否で最終判定する。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/rdf+xml",
	"application/feed+json",
	"application/xml",
	"text/xml",
}

// htmlContentTypes はリンク走査の対象とするメディアタイプ。
var htmlContentTypes = []string{
	"text/html",
	"application/xhtml+xml",
}

// sniffableContentTypes はボディの先頭を見てフィードか判定するメディアタイプ。
// Content-Typeを正しく返さないサーバー向け。
var sniffableContentTypes = []string{
	"",
	"text/plain",
	"application/octet-stream",
}

// feedHrefHints はhrefにこれらを含むリンクをフィード候補とみなす。
var feedHrefHints = []string{"rss", "atom", "feed", ".xml"}

// IsFeedContentType はContent-Typeヘッダー値が既知のフィードMIMEタイプかを判定する。
func IsFeedContentType(contentType string) bool {
	return lo.Contains(feedContentTypes, httpclient.MediaType(contentType))
}

// IsHTMLContentType はContent-Typeヘッダー値がHTML系かを判定する。
func IsHTMLContentType(contentType string) bool {
	return lo.Contains(htmlContentTypes, httpclient.MediaType(contentType))
}

// IsDirectFeed はContent-Typeとボディから、レスポンスがフィードそのものかを判定する。
// 既知のフィードMIMEタイプはそれだけで真、タイプが曖昧な場合はボディを検査する。
func IsDirectFeed(contentType string, body []byte) bool {
	if IsFeedContentType(contentType) {
		return true
	}
	if !lo.Contains(sniffableContentTypes, httpclient.MediaType(contentType)) || len(body) == 0 {
		return false
	}
	return looksLikeFeed(body)
}

// looksLikeFeed はボディの先頭部分を解析してRSS/Atom/JSON Feedかを判定する。
func looksLikeFeed(body []byte) bool {
	// 先頭4KBを検査（XMLプロローグ + ルート要素が含まれるのに十分）
	checkSize := min(len(body), 4096)
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	if strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom") {
		return true
	}
	trimmed := strings.TrimSpace(prefix)
	return strings.HasPrefix(trimmed, "{") && strings.Contains(prefix, "jsonfeed.org/version/")
}

// ScanFeedLinks はHTML文書からフィードらしいlink要素・a要素を抽出し、絶対URLで返す。
// type属性がフィードMIMEタイプのもの、またはhrefにフィードを示す文字列を含むものが対象。
// 結果は文書内の出現順で、重複は除去される。
func ScanFeedLinks(htmlBody []byte, pageURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil
	}
	base := documentBase(doc, pageURL)
	if base == nil {
		return nil
	}

	var links []string
	doc.Find("link[href], a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !isFollowableHref(href) {
			return
		}
		if !IsFeedContentType(s.AttrOr("type", "")) && !hasFeedHint(href) {
			return
		}
		if resolved := resolveURL(base, href); resolved != "" {
			links = append(links, resolved)
		}
	})

	return lo.Uniq(links)
}

// documentBase は<base href>があればそれを、なければページURLを基準URLとして返す。
func documentBase(doc *goquery.Document, pageURL string) *url.URL {
	pageU, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if baseU, err := url.Parse(strings.TrimSpace(href)); err == nil {
			return pageU.ResolveReference(baseU)
		}
	}
	return pageU
}

func isFollowableHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

func hasFeedHint(href string) bool {
	lower := strings.ToLower(href)
	return lo.SomeBy(feedHrefHints, func(hint string) bool {
		return strings.Contains(lower, hint)
	})
}

// resolveURL は相対URLをベースURLを基準にhttp(s)の絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
