package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Hello world & co", CleanText("<p>Hello   <b>world</b></p>\n &amp; co"))
	assert.Equal(t, "", CleanText(nil))
	assert.Equal(t, "42", CleanText(int64(42)))
	assert.Equal(t, `{"a":"b"}`, CleanText(map[string]any{"a": "b"}))
	assert.Equal(t, "visible", CleanText("<script>alert(1)</script>visible"))
}

func TestSnippet(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short text", Snippet("short text", 20))

	got := Snippet("Lorem ipsum, dolor sit amet", 12)
	assert.Equal(t, "Lorem ipsum…", got)

	long := strings.Repeat("è", 500)
	got = Snippet(long, 450)
	assert.Equal(t, 451, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestShortTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A title", ShortTitle(" A \n title ", 96))
	got := ShortTitle(strings.Repeat("abc ", 40), 96)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 96)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestSafeHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/a/b", "example.com"},
		{"http://WWW.Example.org", "Example.org"},
		{"example.net/path", "example.net"},
		{"//cdn.example.com/img.png", "cdn.example.com"},
		{"", "alfassa"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeHost(tt.in), tt.in)
	}
}

func TestSourceLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Mario Rossi — linkedin.com", SourceLabel("Mario Rossi", "https://www.linkedin.com/in/mrossi"))
	assert.Equal(t, "example.com", SourceLabel("", "https://example.com/x"))
	assert.Equal(t, "News from example.com", SourceLabel("News from example.com", "https://example.com"))

	label := SourceLabel(strings.Repeat("word ", 40), "https://site.it")
	assert.True(t, strings.HasSuffix(label, "… — site.it"))
}

func TestFirstString(t *testing.T) {
	t.Parallel()

	row := map[string]any{"name": "", "nome": "Giulia", "title": 3}
	assert.Equal(t, "Giulia", FirstString(row, "title", "name", "nome"))
	assert.Equal(t, "", FirstString(row, "subject"))
}

func TestFirstValue(t *testing.T) {
	t.Parallel()

	row := map[string]any{"description": "", "bio": map[string]any{"it": "ciao"}}
	v, ok := FirstValue(row, "description", "bio")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"it": "ciao"}, v)

	_, ok = FirstValue(row, "missing")
	assert.False(t, ok)
}

func TestFindURL(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"settings": []any{"none", map[string]any{"link": "see https://alfassa.org/post-1 now"}},
	}
	assert.Equal(t, "https://alfassa.org/post-1", FindURL(data))
	assert.Equal(t, "", FindURL(int64(1)))
}

func TestIsHTTPURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsHTTPURL("https://alfassa.org/?p=1"))
	assert.False(t, IsHTTPURL("ftp://alfassa.org"))
	assert.False(t, IsHTTPURL("not a url"))
}
