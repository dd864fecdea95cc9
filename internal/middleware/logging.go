package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// responseRecorder はステータスコードと書き込んだバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

// Write はWriteHeaderが未呼び出しの場合に200を記録してから書き込む。
func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// statusOrOK はハンドラーが何も書かなかった場合に200とみなす。
func (rr *responseRecorder) statusOrOK() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// accessLogFields はハンドラーがアクセスログに追記する項目。
type accessLogFields struct {
	mu    sync.Mutex
	attrs []any
}

type accessLogKey struct{}

// Annotate はリクエストのアクセスログに項目を追加する。
// 検出対象のURLや結果件数など、パスだけでは分からない情報を残すために使う。
// ロギングミドルウェアを通らないリクエストでは何もしない。
func Annotate(ctx context.Context, attrs ...slog.Attr) {
	fields, ok := ctx.Value(accessLogKey{}).(*accessLogFields)
	if !ok {
		return
	}
	fields.mu.Lock()
	defer fields.mu.Unlock()
	for _, a := range attrs {
		fields.attrs = append(fields.attrs, a)
	}
}

// levelForStatus は5xxをError、4xxをWarn、それ以外をInfoとする。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとにJSON構造化ログを1行出力するミドルウェアを返す。
// method、path、status、duration_ms、response_bytes、client_ipに加え、
// ハンドラーがAnnotateで追加した項目（target_urlなど）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := &accessLogFields{}
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessLogKey{}, fields)))

			status := rec.statusOrOK()
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
				slog.Int("response_bytes", rec.bytes),
				slog.String("client_ip", ClientIP(r)),
			}
			fields.mu.Lock()
			args = append(args, fields.attrs...)
			fields.mu.Unlock()

			logger.Log(r.Context(), levelForStatus(status), "http_request", args...)
		})
	}
}
