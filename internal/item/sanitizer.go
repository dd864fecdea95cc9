package item

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はフィード由来のHTMLを保存前に無害化する。
// 本文は許可リスト方式で安全なタグのみを残し、要約はプレーンテキストにする。
// bluemondayのポリシーはスレッドセーフなので、並行する更新処理で共有してよい。
type Sanitizer struct {
	content *bluemonday.Policy
	summary *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
//
// 本文のポリシー:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2-h4, img
//   - script, iframe, style および on* イベント属性は除去
//   - URLはhttpsのみ、相対URLは不可
//   - aタグには target="_blank" と rel="noopener noreferrer" を付与
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool {
		return true
	})

	return &Sanitizer{
		content: p,
		summary: bluemonday.StrictPolicy(),
	}
}

// SanitizeContent は本文HTMLを無害化する。
func (s *Sanitizer) SanitizeContent(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.content.Sanitize(rawHTML)
}

// SanitizeSummary は要約からタグをすべて除去し、空白を詰めたテキストを返す。
func (s *Sanitizer) SanitizeSummary(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.summary.Sanitize(rawHTML)), " ")
}
