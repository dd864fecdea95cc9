package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

func newTestClient() *Client {
	return New(Config{
		Timeout:     5 * time.Second,
		MaxBodySize: 1024 * 1024,
		UserAgent:   "feedsync-test/1.0",
	})
}

func TestGet_SendsDefaultHeaders(t *testing.T) {
	var gotUA, gotAccept, gotEncoding string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.Write([]byte("<rss></rss>"))
	}))
	defer ts.Close()

	resp, err := newTestClient().Get(context.Background(), ts.URL, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotUA != "feedsync-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != DefaultAccept {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotEncoding != "gzip, deflate" {
		t.Errorf("Accept-Encoding = %q", gotEncoding)
	}
	if resp.ContentType() != "application/rss+xml" {
		t.Errorf("ContentType() = %q, want %q", resp.ContentType(), "application/rss+xml")
	}
	if string(resp.Body) != "<rss></rss>" {
		t.Errorf("Body = %q", string(resp.Body))
	}
}

func TestGet_OptionHeadersOverrideDefaults(t *testing.T) {
	var gotAccept, gotCustom string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("X-Custom")
	}))
	defer ts.Close()

	_, err := newTestClient().Get(context.Background(), ts.URL, Options{
		Headers: map[string]string{"Accept": "text/html", "X-Custom": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAccept != "text/html" {
		t.Errorf("Accept = %q, want %q", gotAccept, "text/html")
	}
	if gotCustom != "1" {
		t.Errorf("X-Custom = %q, want %q", gotCustom, "1")
	}
}

func TestGet_DecodesGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("<feed>compressed</feed>"))
	zw.Close()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write(buf.Bytes())
	}))
	defer ts.Close()

	resp, err := newTestClient().Get(context.Background(), ts.URL, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "<feed>compressed</feed>" {
		t.Errorf("Body = %q", string(resp.Body))
	}
}

func TestGet_DecodesDeflate(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte("deflated body"))
	zw.Close()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		w.Write(buf.Bytes())
	}))
	defer ts.Close()

	resp, err := newTestClient().Get(context.Background(), ts.URL, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "deflated body" {
		t.Errorf("Body = %q", string(resp.Body))
	}
}

func TestGet_ErrorStatusIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	resp, err := newTestClient().Get(context.Background(), ts.URL, Options{})
	if err != nil {
		t.Fatalf("HTTPエラーステータスはerrorにならないべき: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if resp.IsSuccess() {
		t.Error("404 should not be IsSuccess")
	}
}

func TestGet_LimitsBodySize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer ts.Close()

	c := New(Config{Timeout: 5 * time.Second, MaxBodySize: 10})
	resp, err := c.Get(context.Background(), ts.URL, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Body) != 10 {
		t.Errorf("len(Body) = %d, want 10", len(resp.Body))
	}
}

func TestGet_PerRequestTimeout(t *testing.T) {
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-done:
		}
	}))
	defer ts.Close()
	defer close(done)

	_, err := newTestClient().Get(context.Background(), ts.URL, Options{Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestGet_FinalURLFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := newTestClient().Get(context.Background(), ts.URL+"/old", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinalURL != ts.URL+"/new" {
		t.Errorf("FinalURL = %q, want %q", resp.FinalURL, ts.URL+"/new")
	}
}

func TestGet_GuardBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(Config{Timeout: 5 * time.Second, Guard: NewSSRFGuard()})
	_, err := c.Get(context.Background(), ts.URL, Options{})
	if err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("expected ErrBlocked, got %v", err)
	}
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"application/rss+xml; charset=utf-8", "application/rss+xml"},
		{"Text/HTML", "text/html"},
		{"", ""},
		{"application/xml;", "application/xml"},
	}
	for _, tt := range tests {
		if got := MediaType(tt.in); got != tt.want {
			t.Errorf("MediaType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
