package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// SearchResult represents a track candidate offered to the user
type SearchResult struct{ Title, URL string }

type queryCache struct {
	sync.RWMutex
	items map[string]cachedItem
}

type cachedItem struct {
	results   []SearchResult
	expiresAt time.Time
}

var searchCache = &queryCache{items: make(map[string]cachedItem)}

// Search queries YouTube Music and YouTube in parallel and merges the
// results, YTM first. Results are capped at Discord's 25-choice limit and
// cached for an hour.
func Search(q string) ([]SearchResult, error) {
	searchCache.RLock()
	if item, ok := searchCache.items[q]; ok {
		if time.Now().Before(item.expiresAt) {
			searchCache.RUnlock()
			return item.results, nil
		}
	}
	searchCache.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2600*time.Millisecond)
	defer cancel()
	resMu := sync.Mutex{}
	var ytm, yt []SearchResult
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		r, _ := s.Next()
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			art := ""
			if len(v.Artists) > 0 {
				art = " - " + v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, SearchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: TruncateWithPreserve(v.Title, 100, "[YTM] ", art)})
			}
			resMu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		r, _ := c.Search(ctx, q)
		for _, v := range r.Results {
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: TruncateWithPreserve(v.Title, 100, "[YT] ", "")})
			}
			resMu.Unlock()
		}
	}()
	d := make(chan struct{})
	go func() {
		wg.Wait()
		close(d)
	}()
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}
	resMu.Lock()
	defer resMu.Unlock()
	fin := append(append([]SearchResult{}, ytm...), yt...)
	if len(fin) > 25 {
		fin = fin[:25]
	}

	if len(fin) > 0 {
		searchCache.Lock()
		searchCache.items[q] = cachedItem{results: fin, expiresAt: time.Now().Add(1 * time.Hour)}
		searchCache.Unlock()
	}

	return fin, nil
}

// resolveQuery turns free-text play input into a URL via the first search hit.
// URLs pass through untouched.
func resolveQuery(q string) (string, error) {
	if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") {
		return q, nil
	}
	results, err := Search(q)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no results for %q", q)
	}
	return results[0].URL, nil
}

// TruncateCenter truncates a string keeping both the start and end.
func TruncateCenter(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	k := (maxLen - 3) / 2
	return string(r[:k]) + "..." + string(r[len(r)-k:])
}

// TruncateWithPreserve truncates text while preserving a prefix and suffix.
func TruncateWithPreserve(text string, maxLen int, prefix, suffix string) string {
	rp, rs := []rune(prefix), []rune(suffix)
	fixedLen := len(rp) + len(rs)
	if fixedLen >= maxLen-10 {
		return TruncateCenter(prefix+text+suffix, maxLen)
	}
	return prefix + TruncateCenter(text, maxLen-fixedLen) + suffix
}
