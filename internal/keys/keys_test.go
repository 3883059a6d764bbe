package keys

import (
	"strings"
	"testing"
)

func TestBuilders(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Novel(42), "novel:42"},
		{NovelChapters(42), "novel:42:chapters"},
		{NovelReviews(7), "novel:7:reviews"},
		{Chapter(42, 3), "chapter:42:3"},
		{UserLibrary(77), "user:77:library"},
		{Search(" dragon ", 1), `search:"dragon":page1`},
		{Trending(), "home:trending"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNovelPatternScopesOneNovel(t *testing.T) {
	pattern := NovelPattern(1)
	if !strings.Contains(NovelChapters(1), pattern) {
		t.Errorf("%q should match %q", pattern, NovelChapters(1))
	}
	if strings.Contains(NovelChapters(12), pattern) {
		t.Errorf("%q should not match %q", pattern, NovelChapters(12))
	}
}

func TestNamespace(t *testing.T) {
	if ns := Namespace(UserLibrary(1)); ns != NSUser {
		t.Errorf("Namespace = %q", ns)
	}
	if ns := Namespace("bare"); ns != "bare" {
		t.Errorf("Namespace = %q", ns)
	}
}
