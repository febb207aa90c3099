package player

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		kind SourceKind
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", SourceStreamingSite, true},
		{"https://youtu.be/dQw4w9WgXcQ", SourceStreamingSite, true},
		{"https://music.youtube.com/watch?v=abc", SourceStreamingSite, true},
		{"https://soundcloud.com/artist/track", SourceStreamingSite, true},
		{"https://discord.com/channels/1/2/3", SourceMessageLink, true},
		{"https://ptb.discordapp.com/channels/10/20/30", SourceMessageLink, true},
		{"https://example.com/audio.mp3", SourceGenericURL, true},
		{"http://example.com/a", SourceGenericURL, true},
		{"ftp://example.com/audio.mp3", 0, false},
		{"not a url", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		kind, err := Classify(c.raw)
		if c.ok != (err == nil) {
			t.Errorf("Classify(%q) err = %v, want ok=%v", c.raw, err, c.ok)
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrResolutionFailed) {
				t.Errorf("Classify(%q) = %v, want ErrResolutionFailed", c.raw, err)
			}
			continue
		}
		if kind != c.kind {
			t.Errorf("Classify(%q) = %v, want %v", c.raw, kind, c.kind)
		}
	}
}

func TestURLResolverDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3 bytes"))
	}))
	defer srv.Close()

	rs := &Resolvers{CacheDir: t.TempDir(), Client: srv.Client()}
	res, err := (&urlResolver{base: rs, url: srv.URL + "/song"}).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil || string(data) != "mp3 bytes" {
		t.Errorf("downloaded file = %q (%v)", data, err)
	}
	if res.ID != "" {
		t.Errorf("generic URL got identity %q, want none", res.ID)
	}
}

func TestURLResolverRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rs := &Resolvers{CacheDir: t.TempDir(), Client: srv.Client()}
	if _, err := (&urlResolver{base: rs, url: srv.URL}).Resolve(context.Background()); !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("Resolve = %v, want ErrResolutionFailed", err)
	}
}

func TestAttachmentResolverExtensionFromFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ogg bytes"))
	}))
	defer srv.Close()

	rs := &Resolvers{CacheDir: t.TempDir(), Client: srv.Client()}
	res, err := rs.ForAttachment(Attachment{
		URL:      srv.URL,
		Filename: "clip.ogg",
	}).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Title != "clip.ogg" {
		t.Errorf("Title = %q, want filename", res.Title)
	}
}

func TestAttachmentResolverNoExtension(t *testing.T) {
	rs := &Resolvers{CacheDir: t.TempDir()}
	_, err := rs.ForAttachment(Attachment{URL: "https://example.com/x", Filename: "mystery"}).Resolve(context.Background())
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("Resolve = %v, want ErrResolutionFailed", err)
	}
}

type stubFetcher struct {
	atts []Attachment
	err  error

	gotChannel snowflake.ID
	gotMessage snowflake.ID
}

func (f *stubFetcher) FetchAttachments(ctx context.Context, channelID, messageID snowflake.ID) ([]Attachment, error) {
	f.gotChannel, f.gotMessage = channelID, messageID
	return f.atts, f.err
}

func TestMessageLinkResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wav bytes"))
	}))
	defer srv.Close()

	fetcher := &stubFetcher{atts: []Attachment{{URL: srv.URL, Filename: "a.wav"}}}
	rs := &Resolvers{CacheDir: t.TempDir(), Client: srv.Client(), Fetcher: fetcher}

	r, err := rs.ForURL("https://discord.com/channels/111/222/333")
	if err != nil {
		t.Fatalf("ForURL: %v", err)
	}
	res, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fetcher.gotChannel != 222 || fetcher.gotMessage != 333 {
		t.Errorf("fetched %d/%d, want 222/333", fetcher.gotChannel, fetcher.gotMessage)
	}
	if res.Title != "a.wav" {
		t.Errorf("Title = %q, want a.wav", res.Title)
	}
}

func TestMessageLinkResolverNoAttachment(t *testing.T) {
	rs := &Resolvers{CacheDir: t.TempDir(), Fetcher: &stubFetcher{}}
	r, err := rs.ForURL("https://discord.com/channels/1/2/3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background()); !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("Resolve = %v, want ErrResolutionFailed", err)
	}
}

func TestForURLPicksStrategy(t *testing.T) {
	rs := &Resolvers{CacheDir: t.TempDir()}

	if _, err := rs.ForURL("ftp://example.com/a"); !errors.Is(err, ErrResolutionFailed) {
		t.Errorf("ForURL(ftp) = %v, want ErrResolutionFailed", err)
	}
	r, err := rs.ForURL("https://www.youtube.com/watch?v=x")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*ytdlpResolver); !ok {
		t.Errorf("youtube URL got %T, want ytdlpResolver", r)
	}
	r, err = rs.ForURL("https://example.com/a.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*urlResolver); !ok {
		t.Errorf("generic URL got %T, want urlResolver", r)
	}
}
