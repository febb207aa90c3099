package player

import (
	"context"
	"math/rand"
	"sync"
)

// Queue is the ordered track queue of a session. Mutations never block, but
// Get suspends its caller while the queue is empty until an item arrives.
// Waiters are resumed in the order they began waiting, so bursty concurrent
// adds cannot starve an early waiter.
//
// Indices are transient: they are only meaningful if no mutation happens
// between computing an index (e.g. from a Snapshot) and using it.
type Queue struct {
	mu      sync.Mutex
	items   []*Track
	waiters []chan *Track
}

func NewQueue() *Queue {
	return &Queue{}
}

// Put appends a track to the back of the queue, handing it directly to the
// oldest waiter if one is suspended.
func (q *Queue) Put(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliver(t) {
		return
	}
	q.items = append(q.items, t)
}

// PutFront prepends a track. It takes priority over previously queued items
// but not over items already handed to a waiter.
func (q *Queue) PutFront(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliver(t) {
		return
	}
	q.items = append([]*Track{t}, q.items...)
}

// deliver hands t to the first suspended waiter. Waiters only exist while the
// queue is empty, so delivery order equals arrival order. Caller holds q.mu.
func (q *Queue) deliver(t *Track) bool {
	if len(q.waiters) == 0 {
		return false
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	w <- t // buffered, never blocks
	return true
}

// Get removes and returns the head of the queue, suspending while the queue
// is empty. It never returns a nil track; bounding the wait is the caller's
// job, via ctx.
func (q *Queue) Get(ctx context.Context) (*Track, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		t := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return t, nil
	}
	w := make(chan *Track, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case t := <-w:
		return t, nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.waiters {
		if c == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return nil, ctx.Err()
		}
	}
	// The waiter was already popped by a concurrent Put: the item is sitting
	// in the channel buffer and must not be lost.
	select {
	case t := <-w:
		q.items = append([]*Track{t}, q.items...)
	default:
	}
	return nil, ctx.Err()
}

// InsertAt inserts a track at index i, which must be inside [0, len).
func (q *Queue) InsertAt(i int, t *Track) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.items) {
		return ErrIndexOutOfRange
	}
	q.insert(i, t)
	return nil
}

// insert splices t into the items slice at i, i in [0, len]. Caller holds q.mu.
func (q *Queue) insert(i int, t *Track) {
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = t
}

// RemoveAt removes and returns the track at index i.
func (q *Queue) RemoveAt(i int) (*Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.items) {
		return nil, ErrIndexOutOfRange
	}
	t := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return t, nil
}

// Move relocates the track at index from to index to. It is exactly a remove
// followed by an insert, with both indices validated against the original
// length; from == to is not special-cased.
func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	t := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.insert(to, t)
	return nil
}

// Shuffle applies a uniform random permutation to the current contents.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Clear empties the queue and returns the removed tracks. In-flight
// resolutions are not canceled; the caller owns discarding the removed tracks
// so their files do not leak.
func (q *Queue) Clear() []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.items
	q.items = nil
	return removed
}

// DropFirst removes and returns the first n tracks.
func (q *Queue) DropFirst(n int) ([]*Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n < 0 || n > len(q.items) {
		return nil, ErrIndexOutOfRange
	}
	removed := append([]*Track(nil), q.items[:n]...)
	q.items = q.items[n:]
	return removed, nil
}

// RemoveDuplicates removes queued tracks whose resolved ID matches an earlier
// queued track, returning the removed ones. Tracks that have not resolved yet
// have no ID and are never considered duplicates; this mirrors the fact that
// identity only exists after resolution.
func (q *Queue) RemoveDuplicates() []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := make(map[string]bool, len(q.items))
	kept := q.items[:0]
	var removed []*Track
	for _, t := range q.items {
		id := t.ID()
		if id != "" && seen[id] {
			removed = append(removed, t)
			continue
		}
		if id != "" {
			seen[id] = true
		}
		kept = append(kept, t)
	}
	q.items = kept
	return removed
}

// Contains reports whether t is currently queued.
func (q *Queue) Contains(t *Track) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it == t {
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of the queue contents for display.
func (q *Queue) Snapshot() []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Track, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
