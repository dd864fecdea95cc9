package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/feedsync/internal/model"
)

// ExtractLinks はHTML文書中のすべてのa[href]を抽出する。
// hrefはページURLを基準に絶対URLへ解決し、リンクテキストは連続する空白を1つに詰める。
// 解決できないhrefは読み飛ばす。
func ExtractLinks(htmlBody []byte, pageURL string) ([]model.LinkInfo, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("HTMLの解析に失敗: %w", err)
	}

	links := make([]model.LinkInfo, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		links = append(links, model.LinkInfo{
			URL:  base.ResolveReference(ref).String(),
			Text: normalizeLinkText(s.Text()),
		})
	})

	return links, nil
}

func normalizeLinkText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
