package player

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

// ===========================
// Classification
// ===========================

// SourceKind classifies a request descriptor and selects a resolver strategy.
type SourceKind int

const (
	SourceGenericURL SourceKind = iota
	SourceStreamingSite
	SourceMessageLink
	SourceAttachment
)

var (
	urlRegex         = regexp.MustCompile(`^https?://[\w!?/+\-_~;.,*&@#$%()'=\[\]]+$`)
	messageLinkRegex = regexp.MustCompile(`^https://(?:\w+\.)?discord(?:app)?\.com/channels/(\d+)/(\d+)/(\d+)$`)
	youtubeRegex     = regexp.MustCompile(`^https?://(?:www\.|music\.|m\.)?(?:youtube\.com|youtu\.be)/`)
	soundcloudRegex  = regexp.MustCompile(`^https?://(?:www\.|m\.)?soundcloud\.com/[\w\-]+`)
)

// Classify determines which resolver strategy serves a raw descriptor. It
// fails synchronously for anything that is not an http(s) URL, before any
// background work starts.
func Classify(raw string) (SourceKind, error) {
	if !urlRegex.MatchString(raw) {
		return 0, fmt.Errorf("%w: unsupported descriptor %q", ErrResolutionFailed, raw)
	}
	switch {
	case messageLinkRegex.MatchString(raw):
		return SourceMessageLink, nil
	case youtubeRegex.MatchString(raw), soundcloudRegex.MatchString(raw):
		return SourceStreamingSite, nil
	default:
		return SourceGenericURL, nil
	}
}

// ===========================
// Resolver contract
// ===========================

// Resolved is the product of a resolution: a locally readable audio file plus
// display metadata and a stable identity (empty when the source has none).
type Resolved struct {
	Path  string
	Title string
	ID    string
}

// Resolver turns one request descriptor into a playable local file.
type Resolver interface {
	Resolve(ctx context.Context) (Resolved, error)
}

// Attachment is the minimal shape of a message attachment the resolvers need.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// MessageFetcher looks up a message's attachments across channels. The bot
// layer implements it on top of the Discord REST client.
type MessageFetcher interface {
	FetchAttachments(ctx context.Context, channelID, messageID snowflake.ID) ([]Attachment, error)
}

// Resolvers builds resolver strategies bound to a cache directory and the
// ports they need.
type Resolvers struct {
	CacheDir string
	Client   *http.Client
	Fetcher  MessageFetcher
	Limiter  *rate.Limiter // bounds concurrent yt-dlp process spawns
}

// ForURL classifies raw and returns the matching strategy. The error covers
// the immediate bad-URL case only; everything else surfaces from Resolve.
func (r *Resolvers) ForURL(raw string) (Resolver, error) {
	kind, err := Classify(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case SourceMessageLink:
		return &messageLinkResolver{base: r, url: raw}, nil
	case SourceStreamingSite:
		return &ytdlpResolver{base: r, url: raw}, nil
	default:
		return &urlResolver{base: r, url: raw}, nil
	}
}

// ForAttachment returns the strategy for a directly supplied attachment.
func (r *Resolvers) ForAttachment(att Attachment) Resolver {
	return &attachmentResolver{base: r, att: att}
}

func (r *Resolvers) httpClient() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// cachePath returns a fresh unique file path in the cache directory.
func (r *Resolvers) cachePath(ext string) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return filepath.Join(r.CacheDir, hex.EncodeToString(b[:])+ext)
}

// download fetches url into the cache directory, deriving the extension from
// the response Content-Type when none is supplied.
func (r *Resolvers) download(ctx context.Context, url, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	res, err := r.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch returned status %d", ErrResolutionFailed, res.StatusCode)
	}

	if ext == "" {
		ext = extensionForType(res.Header.Get("Content-Type"))
	}
	if ext == "" {
		return "", fmt.Errorf("%w: unknown audio extension for %s", ErrResolutionFailed, url)
	}

	path := r.cachePath(ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return path, nil
}

func extensionForType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// ===========================
// Strategies
// ===========================

// urlResolver downloads a generic URL directly.
type urlResolver struct {
	base *Resolvers
	url  string
}

func (u *urlResolver) Resolve(ctx context.Context) (Resolved, error) {
	path, err := u.base.download(ctx, u.url, "")
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Path: path, Title: filepath.Base(u.url)}, nil
}

// attachmentResolver downloads the audio attachment of a message. The
// extension comes from the attachment filename, falling back to its
// advertised content type.
type attachmentResolver struct {
	base *Resolvers
	att  Attachment
}

func (a *attachmentResolver) Resolve(ctx context.Context) (Resolved, error) {
	ext := filepath.Ext(a.att.Filename)
	if ext == "" {
		ext = extensionForType(a.att.ContentType)
	}
	if ext == "" {
		return Resolved{}, fmt.Errorf("%w: attachment %q has no recognizable audio extension", ErrResolutionFailed, a.att.Filename)
	}
	path, err := a.base.download(ctx, a.att.URL, ext)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Path: path, Title: a.att.Filename}, nil
}

// messageLinkResolver resolves a cross-channel message link by fetching the
// referenced message and delegating to the attachment strategy.
type messageLinkResolver struct {
	base *Resolvers
	url  string
}

func (m *messageLinkResolver) Resolve(ctx context.Context) (Resolved, error) {
	parts := messageLinkRegex.FindStringSubmatch(m.url)
	if parts == nil {
		return Resolved{}, fmt.Errorf("%w: malformed message link", ErrResolutionFailed)
	}
	channelID, err := snowflake.Parse(parts[2])
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	messageID, err := snowflake.Parse(parts[3])
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if m.base.Fetcher == nil {
		return Resolved{}, fmt.Errorf("%w: no message fetcher configured", ErrResolutionFailed)
	}
	atts, err := m.base.Fetcher.FetchAttachments(ctx, channelID, messageID)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if len(atts) == 0 {
		return Resolved{}, fmt.Errorf("%w: referenced message has no attachment", ErrResolutionFailed)
	}
	return (&attachmentResolver{base: m.base, att: atts[0]}).Resolve(ctx)
}

// ytdlpResolver shells out to yt-dlp for streaming-site URLs. One invocation
// downloads the file and prints id, title and extension, so the media is
// never fetched twice.
type ytdlpResolver struct {
	base *Resolvers
	url  string
}

func (y *ytdlpResolver) Resolve(ctx context.Context) (Resolved, error) {
	if y.base.Limiter != nil {
		if err := y.base.Limiter.Wait(ctx); err != nil {
			return Resolved{}, err
		}
	}

	dctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		NoCheckCertificates().
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output(filepath.Join(y.base.CacheDir, "%(id)s.%(ext)s")).
		Print("%(id)s\t%(title)s\t%(ext)s").
		NoSimulate()

	res, err := cmd.Run(dctx, y.url)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: yt-dlp: %v", ErrResolutionFailed, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 3 {
			continue
		}
		id, title, ext := ps[0], ps[1], ps[2]
		path := filepath.Join(y.base.CacheDir, id+"."+ext)
		if _, err := os.Stat(path); err != nil {
			return Resolved{}, fmt.Errorf("%w: yt-dlp reported %s but file is missing", ErrResolutionFailed, path)
		}
		return Resolved{Path: path, Title: title, ID: id}, nil
	}
	return Resolved{}, fmt.Errorf("%w: yt-dlp produced no parsable output", ErrResolutionFailed)
}
