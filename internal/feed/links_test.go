package feed

import (
	"reflect"
	"testing"

	"github.com/hitoshi/feedsync/internal/model"
)

func TestExtractLinks(t *testing.T) {
	html := `<html><body>
		<a href="/posts/1">  First
			post </a>
		<a href="https://other.example.org/x">Other</a>
		<a>no href</a>
		<a href="../up">Up</a>
	</body></html>`

	got, err := ExtractLinks([]byte(html), "https://example.com/blog/index.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.LinkInfo{
		{URL: "https://example.com/posts/1", Text: "First post"},
		{URL: "https://other.example.org/x", Text: "Other"},
		{URL: "https://example.com/up", Text: "Up"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractLinks = %+v, want %+v", got, want)
	}
}

func TestExtractLinks_Empty(t *testing.T) {
	got, err := ExtractLinks([]byte("<html></html>"), "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}
