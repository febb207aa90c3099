package main

import (
	"testing"
	"time"
)

func TestTruncateCenter(t *testing.T) {
	cases := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 10, "abcdefghij"},
		{"abcdefghijk", 10, "abc...ijk"},
		{"ab", 2, "ab"},
		{"abcd", 3, "abc"},
	}
	for _, c := range cases {
		if got := TruncateCenter(c.in, c.maxLen); got != c.want {
			t.Errorf("TruncateCenter(%q, %d) = %q, want %q", c.in, c.maxLen, got)
		}
	}
}

func TestTruncateWithPreserve(t *testing.T) {
	got := TruncateWithPreserve("title", 100, "[YT] ", " - artist")
	if got != "[YT] title - artist" {
		t.Errorf("TruncateWithPreserve = %q", got)
	}

	long := make([]rune, 200)
	for i := range long {
		long[i] = 'x'
	}
	got = TruncateWithPreserve(string(long), 50, "[YTM] ", "")
	if len([]rune(got)) > 50 {
		t.Errorf("result exceeds max length: %d runes", len([]rune(got)))
	}
	if got[:6] != "[YTM] " {
		t.Errorf("prefix not preserved: %q", got[:6])
	}
}

func TestResolveQueryPassesURLsThrough(t *testing.T) {
	for _, u := range []string{"https://example.com/a.mp3", "http://example.com/b"} {
		got, err := resolveQuery(u)
		if err != nil || got != u {
			t.Errorf("resolveQuery(%q) = %q, %v", u, got, err)
		}
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	searchCache.Lock()
	searchCache.items["q"] = cachedItem{
		results:   []SearchResult{{Title: "cached", URL: "https://example.com"}},
		expiresAt: time.Now().Add(time.Hour),
	}
	searchCache.Unlock()

	results, err := Search("q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "cached" {
		t.Errorf("cached results not served: %v", results)
	}
}
