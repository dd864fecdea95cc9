// Package httpclient はフィード検出・更新で使用するHTTP GETクライアントを提供する。
// HTTPエラーステータスはエラーとせずにResponseとして返し、
// ネットワークエラーのみをerrorとして返す。
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	// DefaultAccept はフィードとHTMLの両方を受け付けるAcceptヘッダー。
	DefaultAccept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.9, text/html;q=0.8, */*;q=0.5"
	// defaultAcceptEncoding は自前で展開できるContent-Encodingのみを要求する。
	defaultAcceptEncoding = "gzip, deflate"
)

// Options はリクエスト単位の設定。
type Options struct {
	// Timeout はこのリクエストのタイムアウト。0の場合はクライアントのデフォルトを使用する。
	Timeout time.Duration
	// Headers は追加・上書きするリクエストヘッダー。
	Headers map[string]string
}

// Response は展開済みのレスポンスボディを保持する。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL はリダイレクト追従後のURL。
	FinalURL string
}

// ContentType はパラメータを除いた小文字のメディアタイプを返す。
func (r *Response) ContentType() string {
	return MediaType(r.Header.Get("Content-Type"))
}

// IsSuccess はステータスコードが2xxかどうかを返す。
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Getter はHTTP GETの抽象。テスト時にモックへ差し替える。
type Getter interface {
	Get(ctx context.Context, rawURL string, opts Options) (*Response, error)
}

// Config はClientの設定。
type Config struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
	// Guard がnilの場合はSSRF防止を行わない（テストおよびローカル開発用）。
	Guard *SSRFGuard
}

// Client はGetterの実装。
type Client struct {
	http        *http.Client
	guard       *SSRFGuard
	timeout     time.Duration
	maxBodySize int64
	userAgent   string
}

// New はClientを生成する。
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Feedsync/1.0"
	}

	var hc *http.Client
	if cfg.Guard != nil {
		hc = cfg.Guard.NewSafeClient(cfg.Timeout)
	} else {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		http:        hc,
		guard:       cfg.Guard,
		timeout:     cfg.Timeout,
		maxBodySize: cfg.MaxBodySize,
		userAgent:   cfg.UserAgent,
	}
}

// Get はURLを取得してボディを展開したResponseを返す。
// タイムアウトはリクエストごとにcontextで適用する。
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	if c.guard != nil {
		if err := c.guard.ValidateURL(rawURL); err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", DefaultAccept)
	req.Header.Set("Accept-Encoding", defaultAcceptEncoding)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	body, err := c.decode(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, fmt.Errorf("レスポンス展開失敗: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}

// decode はContent-Encodingに応じてボディを展開する。
// 展開後のサイズもmaxBodySizeで制限する。
func (c *Client) decode(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, c.maxBodySize))
	case "deflate":
		// deflateはzlibラップ形式が一般的だが、生のdeflateを返すサーバーもある
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			defer zr.Close()
			return io.ReadAll(io.LimitReader(zr, c.maxBodySize))
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(io.LimitReader(fr, c.maxBodySize))
	default:
		return nil, errors.New("unsupported content encoding: " + encoding)
	}
}

// MediaType はContent-Typeヘッダー値からcharsetなどのパラメータを除去し、小文字で返す。
func MediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}
