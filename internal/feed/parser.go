package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/model"
)

// Parser はgofeedによるRSS/Atom/JSON Feedのパースを行う。
type Parser struct {
	client httpclient.Getter
}

// NewParser はParserを生成する。clientはParseURLでのみ使用する。
func NewParser(client httpclient.Getter) *Parser {
	return &Parser{client: client}
}

// ParseBody は取得済みのボディをパースする。
func (p *Parser) ParseBody(body []byte) (*model.ParsedFeed, error) {
	// gofeed.Parserは内部状態を持つため呼び出しごとに生成する
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	return &model.ParsedFeed{
		Title: strings.TrimSpace(parsed.Title),
		Link:  parsed.Link,
		Kind:  feedKind(parsed.FeedType),
		Items: convertGofeedItems(parsed.Items),
	}, nil
}

// ParseURL はURLを取得してパースする。2xx以外のステータスはエラーとする。
func (p *Parser) ParseURL(ctx context.Context, feedURL string) (*model.ParsedFeed, error) {
	resp, err := p.client.Get(ctx, feedURL, httpclient.Options{})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}
	return p.ParseBody(resp.Body)
}

func feedKind(feedType string) model.FeedKind {
	switch feedType {
	case "rss":
		return model.FeedKindRSS
	case "atom":
		return model.FeedKindAtom
	case "json":
		return model.FeedKindJSON
	default:
		return ""
	}
}

// convertGofeedItems はgofeedの記事をmodel.ParsedItemに変換する。
func convertGofeedItems(items []*gofeed.Item) []model.ParsedItem {
	parsedItems := make([]model.ParsedItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		parsed := model.ParsedItem{
			GUID:    item.GUID,
			Title:   item.Title,
			URL:     item.Link,
			Content: item.Content,
			Summary: item.Description,
		}

		if item.Author != nil {
			parsed.Author = item.Author.Name
		}
		if parsed.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			parsed.Author = item.Authors[0].Name
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			parsed.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			parsed.PublishedAt = &t
		}

		if parsed.Content == "" && item.Description != "" {
			parsed.Content = item.Description
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをURLとして使用
		if parsed.URL == "" &&
			(strings.HasPrefix(parsed.GUID, "http://") || strings.HasPrefix(parsed.GUID, "https://")) {
			parsed.URL = parsed.GUID
		}

		parsedItems = append(parsedItems, parsed)
	}

	return parsedItems
}
