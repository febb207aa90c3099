package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// State is the lifecycle phase of a session. Disconnected is terminal.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultIdleTimeout bounds how long a session waits on an empty queue before
// tearing itself down.
const DefaultIdleTimeout = 30 * time.Second

// Settings are the per-guild admission limits consulted on every add. Zero
// MaxQueueLength means unlimited.
type Settings struct {
	MaxQueueLength    int
	PreventDuplicates bool
}

// Config carries the session's tunables and callbacks. Settings is re-read on
// every add so stored options take effect without restarting the session.
// Callbacks run on the playback loop goroutine and must not block.
type Config struct {
	IdleTimeout  time.Duration
	Settings     func() Settings
	OnTrackStart func(t *Track)
	OnTrackError func(t *Track, err error)
	Logger       *slog.Logger
}

// Session owns one sink and one queue and drives playback between them on a
// dedicated loop goroutine. All exported methods are safe for concurrent use;
// every method except accessors fails with ErrSessionDisconnected once the
// session is terminal.
type Session struct {
	Key snowflake.ID

	queue *Queue
	sink  Sink
	cfg   Config
	log   *slog.Logger

	mu        sync.Mutex
	state     State
	current   *Track
	loopTrack bool
	loopQueue bool

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	onClose func(*Session)
}

// NewSession creates a session bound to sink and starts its playback loop.
// The loop runs until Disconnect is called, the idle timeout fires, or the
// sink reports itself gone.
func NewSession(key snowflake.ID, sink Sink, cfg Config) *Session {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Settings == nil {
		cfg.Settings = func() Settings { return Settings{} }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Key:    key,
		queue:  NewQueue(),
		sink:   sink,
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// run is the playback loop: dequeue, play, advance. An empty queue for longer
// than the idle timeout ends the session.
func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("playback loop panicked", "guild", s.Key, "panic", r)
		}
	}()

	for {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.IdleTimeout)
		t, err := s.queue.Get(ctx)
		cancel()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Info("session idle timeout", "guild", s.Key)
			}
			return
		}
		if !s.sink.IsConnected() {
			t.Discard()
			return
		}
		s.playTrack(t)
		if s.ctx.Err() != nil {
			return
		}
	}
}

// playTrack plays t to completion, honoring the loop flags. Loop-track repeats
// inside this call; loop-queue re-enqueues at the back. A track that ends up
// neither playing nor queued has its file deleted here.
func (s *Session) playTrack(t *Track) {
	for {
		src, err := t.MaterializedSource(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("track failed to resolve", "guild", s.Key, "track", t.Raw, "err", err)
				if s.cfg.OnTrackError != nil {
					s.cfg.OnTrackError(t, err)
				}
			}
			t.Discard()
			return
		}

		s.mu.Lock()
		s.current = t
		s.state = StatePlaying
		s.mu.Unlock()
		// A pause covers only the track it was issued for.
		s.sink.Resume()
		if s.cfg.OnTrackStart != nil {
			s.cfg.OnTrackStart(t)
		}

		finished := make(chan struct{})
		if err := s.sink.Play(src, func() { close(finished) }); err != nil {
			src.Close()
			s.mu.Lock()
			s.current = nil
			s.state = StateIdle
			s.mu.Unlock()
			s.log.Error("sink rejected track", "guild", s.Key, "track", t.Title(), "err", err)
			if s.cfg.OnTrackError != nil {
				s.cfg.OnTrackError(t, err)
			}
			t.Cleanup()
			return
		}

		select {
		case <-finished:
		case <-s.ctx.Done():
			s.sink.Stop()
			<-finished
		}

		s.mu.Lock()
		s.current = nil
		s.state = StateIdle
		loopTrack, loopQueue := s.loopTrack, s.loopQueue
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			if !s.queue.Contains(t) {
				t.Cleanup()
			}
			return
		}
		if loopTrack {
			// Resolution is memoized, so this replays the same file.
			continue
		}
		if loopQueue {
			s.queue.Put(t)
			return
		}
		// Replay may have re-queued t; only delete the file once nothing
		// references it anymore.
		if !s.queue.Contains(t) {
			t.Cleanup()
		}
		return
	}
}

// teardown empties the queue, discards everything, and releases the sink.
// Runs exactly once, on the loop goroutine, whatever ended the loop.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.current = nil
	s.mu.Unlock()
	s.cancel()
	for _, t := range s.queue.Clear() {
		t.Discard()
	}
	s.sink.Disconnect()
	if s.onClose != nil {
		s.onClose(s)
	}
	s.log.Info("session closed", "guild", s.Key)
}

// guard rejects operations on a terminal session.
func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrSessionDisconnected
	}
	return nil
}

// admit applies the per-guild limits to a candidate track. Duplicate
// prevention compares raw descriptors, since candidates are usually still
// resolving when they are added.
func (s *Session) admit(t *Track) error {
	set := s.cfg.Settings()
	if set.MaxQueueLength > 0 && s.queue.Len() >= set.MaxQueueLength {
		return ErrQueueFull
	}
	if set.PreventDuplicates {
		if cur := s.NowPlaying(); cur != nil && cur.Raw == t.Raw {
			return ErrDuplicateTrack
		}
		for _, q := range s.queue.Snapshot() {
			if q.Raw == t.Raw {
				return ErrDuplicateTrack
			}
		}
	}
	return nil
}

// Add appends t to the queue. A rejected track is discarded here so its
// background resolution cannot leak a file.
func (s *Session) Add(t *Track) error {
	if err := s.guard(); err != nil {
		t.Discard()
		return err
	}
	if err := s.admit(t); err != nil {
		t.Discard()
		return err
	}
	s.queue.Put(t)
	return nil
}

// AddFirst queues t ahead of everything already waiting.
func (s *Session) AddFirst(t *Track) error {
	if err := s.guard(); err != nil {
		t.Discard()
		return err
	}
	if err := s.admit(t); err != nil {
		t.Discard()
		return err
	}
	s.queue.PutFront(t)
	return nil
}

// PlayNow queues t at the front and cuts off the current track, if any.
// Admission limits apply the same as Add.
func (s *Session) PlayNow(t *Track) error {
	if err := s.AddFirst(t); err != nil {
		return err
	}
	s.mu.Lock()
	playing := s.current != nil
	s.mu.Unlock()
	if playing {
		s.sink.Stop()
	}
	return nil
}

// Skip ends the current track. The completion transition is the same as a
// natural end, so loop-track will replay the skipped track.
func (s *Session) Skip() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.mu.Lock()
	playing := s.current != nil
	s.mu.Unlock()
	if !playing {
		return ErrNothingPlaying
	}
	s.sink.Stop()
	return nil
}

// Replay restarts the current track from the beginning by re-queuing it at
// the front and cutting playback.
func (s *Session) Replay() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return ErrNothingPlaying
	}
	s.queue.PutFront(cur)
	s.sink.Stop()
	return nil
}

// Pause suspends playback of the current track.
func (s *Session) Pause() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNothingPlaying
	}
	s.sink.Pause()
	s.state = StatePaused
	return nil
}

// Resume continues a paused track.
func (s *Session) Resume() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNothingPlaying
	}
	s.sink.Resume()
	s.state = StatePlaying
	return nil
}

// ToggleLoopTrack flips single-track repeat and returns the new value.
func (s *Session) ToggleLoopTrack() (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopTrack = !s.loopTrack
	return s.loopTrack, nil
}

// ToggleLoopQueue flips whole-queue repeat and returns the new value.
func (s *Session) ToggleLoopQueue() (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopQueue = !s.loopQueue
	return s.loopQueue, nil
}

// LoopFlags reports the current repeat flags.
func (s *Session) LoopFlags() (track, queue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopTrack, s.loopQueue
}

// Shuffle randomizes the queued tracks. The current track is unaffected.
func (s *Session) Shuffle() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.queue.Shuffle()
	return nil
}

// Move relocates a queued track from one index to another.
func (s *Session) Move(from, to int) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.queue.Move(from, to)
}

// Remove drops the queued track at index i and returns it for display. Its
// file is discarded once resolution settles.
func (s *Session) Remove(i int) (*Track, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	t, err := s.queue.RemoveAt(i)
	if err != nil {
		return nil, err
	}
	t.Discard()
	return t, nil
}

// RemoveDuplicates drops queued tracks that resolved to the same identity as
// an earlier entry, returning how many were removed. Unresolved tracks carry
// no identity yet and are left alone.
func (s *Session) RemoveDuplicates() (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	removed := s.queue.RemoveDuplicates()
	for _, t := range removed {
		t.Discard()
	}
	return len(removed), nil
}

// SkipTo drops everything before queue index i and then cuts the current
// track, so the track that was at i plays next.
func (s *Session) SkipTo(i int) error {
	if err := s.guard(); err != nil {
		return err
	}
	if i < 0 || i >= s.queue.Len() {
		return ErrIndexOutOfRange
	}
	removed, err := s.queue.DropFirst(i)
	if err != nil {
		return err
	}
	for _, t := range removed {
		t.Discard()
	}
	s.mu.Lock()
	playing := s.current != nil
	s.mu.Unlock()
	if playing {
		s.sink.Stop()
	}
	return nil
}

// Clear empties the queue and returns how many tracks were dropped.
func (s *Session) Clear() (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	removed := s.queue.Clear()
	for _, t := range removed {
		t.Discard()
	}
	return len(removed), nil
}

// NowPlaying returns the active track, or nil when nothing plays.
func (s *Session) NowPlaying() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State reports the session's lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a point-in-time copy of the queued tracks.
func (s *Session) Snapshot() []*Track {
	return s.queue.Snapshot()
}

// QueueLen returns the number of queued tracks, excluding the current one.
func (s *Session) QueueLen() int {
	return s.queue.Len()
}

// Disconnect ends the session. The state flips immediately so concurrent
// operations start failing; the loop goroutine finishes the teardown. Calling
// it on an already terminal session returns ErrSessionDisconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrSessionDisconnected
	}
	s.state = StateDisconnected
	s.mu.Unlock()
	s.cancel()
	s.sink.Stop()
	return nil
}

// Done is closed once the playback loop and teardown have fully finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
