package player

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Track is one request to play a specific piece of media, together with its
// asynchronous resolution to a local file. Resolution starts at construction
// and runs at most once; the resulting file path is set at most once and is
// authoritative afterward.
type Track struct {
	Requester snowflake.ID
	Raw       string // originating request descriptor, for display/logging

	mu    sync.Mutex
	id    string
	title string
	path  string
	err   error

	done        chan struct{}
	cancel      context.CancelFunc
	cleanupOnce sync.Once
	discardOnce sync.Once
}

// NewTrack creates a track and immediately launches its resolution in the
// background. The caller never blocks; use Await or MaterializedSource to
// observe the outcome.
func NewTrack(raw string, requester snowflake.ID, r Resolver) *Track {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Track{
		Requester: requester,
		Raw:       raw,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	go t.resolve(ctx, r)
	return t
}

func (t *Track) resolve(ctx context.Context, r Resolver) {
	defer close(t.done)
	res, err := r.Resolve(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.err = err
		return
	}
	t.id, t.title, t.path = res.ID, res.Title, res.Path
}

// Await blocks until resolution completes or ctx is canceled, and reports the
// resolution outcome. It is safe to call any number of times.
func (t *Track) Await(ctx context.Context) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// MaterializedSource awaits resolution and opens a readable stream over the
// materialized file. Each call opens a fresh stream; the resolution itself is
// memoized, so looping a track never re-invokes its resolver.
func (t *Track) MaterializedSource(ctx context.Context) (io.ReadCloser, error) {
	if err := t.Await(ctx); err != nil {
		return nil, err
	}
	f, err := os.Open(t.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return f, nil
}

// Resolved reports whether resolution has finished, successfully or not.
func (t *Track) Resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// ID returns the stable identity produced by resolution, or "" before it.
func (t *Track) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Title returns the display title, falling back to the raw descriptor.
func (t *Track) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.title != "" {
		return t.title
	}
	return t.Raw
}

func (t *Track) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Same reports whether both tracks resolved to the same stable identity.
// Unresolved tracks compare unequal to everything.
func (t *Track) Same(o *Track) bool {
	if o == nil {
		return false
	}
	id := t.ID()
	return id != "" && id == o.ID()
}

// Cleanup deletes the backing file if one was materialized. It is a no-op
// after the first call. It must not run while the sink is still reading the
// file; the playback loop only calls it after the sink finished or stopped.
func (t *Track) Cleanup() {
	t.cleanupOnce.Do(func() {
		if p := t.Path(); p != "" {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return
			}
		}
	})
}

// Discard schedules cleanup for a track that nothing will play anymore. The
// resolution task is left to finish so a file produced after the discard is
// still deleted instead of leaking.
func (t *Track) Discard() {
	t.discardOnce.Do(func() {
		go func() {
			<-t.done
			t.Cleanup()
		}()
	})
}

// CancelResolution aborts the background resolution task. Used only on full
// shutdown, where waiting for downloads to finish is pointless.
func (t *Track) CancelResolution() {
	t.cancel()
}
