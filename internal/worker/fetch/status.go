package fetch

import (
	"context"
	"errors"
	"net"

	"github.com/hitoshi/feedsync/internal/httpclient"
)

// FailureReason はフィード更新失敗の原因分類。メトリクスのreasonラベルとログに使用する。
type FailureReason string

const (
	// FailureNone は失敗なし（2xx）。
	FailureNone FailureReason = ""
	// FailureTransport はDNS・接続などのネットワークエラー。
	FailureTransport FailureReason = "transport"
	// FailureTimeout はタイムアウト。
	FailureTimeout FailureReason = "timeout"
	// FailureBlocked はSSRF防止によるブロック。
	FailureBlocked FailureReason = "blocked"
	// FailureNotFound は404/410。
	FailureNotFound FailureReason = "not_found"
	// FailureForbidden は401/403。
	FailureForbidden FailureReason = "forbidden"
	// FailureRateLimited は429。
	FailureRateLimited FailureReason = "rate_limited"
	// FailureServerError は5xx。
	FailureServerError FailureReason = "server_error"
	// FailureUnexpectedStatus はその他の2xx以外のステータス。
	FailureUnexpectedStatus FailureReason = "unexpected_status"
	// FailureParse はフィードのパース失敗。
	FailureParse FailureReason = "parse"
)

// ClassifyHTTPStatus はHTTPステータスコードを失敗原因に分類する。2xxはFailureNoneを返す。
func ClassifyHTTPStatus(statusCode int) FailureReason {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FailureNone
	case statusCode == 404 || statusCode == 410:
		return FailureNotFound
	case statusCode == 401 || statusCode == 403:
		return FailureForbidden
	case statusCode == 429:
		return FailureRateLimited
	case statusCode >= 500:
		return FailureServerError
	default:
		return FailureUnexpectedStatus
	}
}

// ClassifyTransportError はHTTPクライアントのエラーを失敗原因に分類する。
func ClassifyTransportError(err error) FailureReason {
	if errors.Is(err, httpclient.ErrBlocked) {
		return FailureBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}
