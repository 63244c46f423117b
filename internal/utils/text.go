package utils

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const defaultHost = "alfassa"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	wwwPrefixRe  = regexp.MustCompile(`(?i)^www\.`)
	urlInTextRe  = regexp.MustCompile(`(?i)https?://[^\s"<>)]+`)
)

// StripTags returns the text content of an HTML fragment with entities decoded.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// CleanText renders any value as a single line of plain text.
func CleanText(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case []byte:
		s = string(t)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		s = string(raw)
	default:
		s = fmt.Sprint(t)
	}
	s = StripTags(s)
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Snippet cleans text and truncates it to max runes, never ending on a symbol.
func Snippet(v any, max int) string {
	text := CleanText(v)
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return cutRunes(text, max) + "…"
}

// ShortTitle collapses whitespace and shortens a title to at most max runes.
func ShortTitle(s string, max int) string {
	t := strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(t) <= max {
		return t
	}
	return cutRunes(t, max-1) + "…"
}

func cutRunes(s string, n int) string {
	r := []rune(s)
	if n < len(r) {
		r = r[:n]
	}
	cut := strings.TrimRightFunc(string(r), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c)
	})
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}

// SafeHost extracts the bare host of a URL without a leading "www.".
func SafeHost(raw string) string {
	if raw == "" {
		return defaultHost
	}
	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		if u, err := url.Parse("https://" + strings.TrimLeft(raw, "/")); err == nil {
			host = u.Hostname()
		}
	}
	if host == "" {
		return defaultHost
	}
	return wwwPrefixRe.ReplaceAllString(host, "")
}

// SourceLabel builds the "title — host" label shown for a web citation.
func SourceLabel(title, link string) string {
	t := CleanText(title)
	host := SafeHost(link)
	if t == "" {
		t = host
	}
	t = Snippet(t, 72)
	if host != "" && !strings.Contains(strings.ToLower(t), strings.ToLower(host)) {
		t += " — " + host
	}
	return t
}

// FirstString returns the first key of row holding a non-empty string.
func FirstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := row[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// FirstValue returns the first key of row holding a non-empty value.
func FirstValue(row map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "0"
	case []byte:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case bool:
		return !t
	}
	return false
}

// FindURL walks strings, maps and slices and returns the first http(s) URL found.
func FindURL(v any) string {
	switch t := v.(type) {
	case string:
		return urlInTextRe.FindString(t)
	case []any:
		for _, item := range t {
			if u := FindURL(item); u != "" {
				return u
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if u := FindURL(t[k]); u != "" {
				return u
			}
		}
	}
	return ""
}

// IsHTTPURL reports whether s parses as an absolute http(s) URL.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
