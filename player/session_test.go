package player

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

// fakeSink is an in-memory sink. Plays end when the test calls finish, when
// Stop runs, or automatically after autoEnd when set.
type fakeSink struct {
	autoEnd time.Duration

	mu        sync.Mutex
	connected bool
	paused    bool
	playing   bool
	plays     int
	complete  func()
}

func newFakeSink() *fakeSink {
	return &fakeSink{connected: true}
}

func (f *fakeSink) Play(src io.ReadCloser, onComplete func()) error {
	src.Close()
	f.mu.Lock()
	f.plays++
	gen := f.plays
	f.playing = true
	f.complete = onComplete
	auto := f.autoEnd
	f.mu.Unlock()

	if auto > 0 {
		go func() {
			time.Sleep(auto)
			f.mu.Lock()
			stale := f.plays != gen || f.complete == nil
			c := f.complete
			if !stale {
				f.complete = nil
				f.playing = false
			}
			f.mu.Unlock()
			if !stale {
				c()
			}
		}()
	}
	return nil
}

func (f *fakeSink) finish() {
	f.mu.Lock()
	c := f.complete
	f.complete = nil
	f.playing = false
	f.mu.Unlock()
	if c != nil {
		c()
	}
}

func (f *fakeSink) Stop()          { f.finish() }
func (f *fakeSink) Pause()         { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeSink) Resume()        { f.mu.Lock(); f.paused = false; f.mu.Unlock() }
func (f *fakeSink) Disconnect()    { f.mu.Lock(); f.connected = false; f.mu.Unlock() }
func (f *fakeSink) IsPaused() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.paused }
func (f *fakeSink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSink) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// startRecorder returns an OnTrackStart callback and a getter for the order
// of started tracks.
func startRecorder() (func(*Track), func() []string) {
	var mu sync.Mutex
	var order []string
	record := func(t *Track) {
		mu.Lock()
		order = append(order, t.ID())
		mu.Unlock()
	}
	get := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), order...)
	}
	return record, get
}

func fileTrack(t *testing.T, id string) *Track {
	t.Helper()
	path := tempAudioFile(t, id)
	tr := NewTrack("raw:"+id, 0, stubResolver{res: Resolved{Path: path, Title: id, ID: id}})
	return tr
}

func TestSessionPlaysInOrder(t *testing.T) {
	sink := newFakeSink()
	sink.autoEnd = 5 * time.Millisecond
	onStart, started := startRecorder()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second, OnTrackStart: onStart})
	defer s.Disconnect()

	a, b := fileTrack(t, "a"), fileTrack(t, "b")
	if err := s.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(b); err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitFor(t, "both tracks to start", func() bool { return len(started()) == 2 })
	got := started()
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("play order = %v, want [a b]", got)
	}
	// Finished tracks have their files deleted.
	waitFor(t, "files to be cleaned", func() bool {
		_, errA := os.Stat(a.Path())
		_, errB := os.Stat(b.Path())
		return os.IsNotExist(errA) && os.IsNotExist(errB)
	})
}

func TestSessionIdleTimeout(t *testing.T) {
	sink := newFakeSink()
	s := NewSession(1, sink, Config{IdleTimeout: 30 * time.Millisecond})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never timed out")
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
	if sink.IsConnected() {
		t.Error("sink still connected after idle teardown")
	}
	if err := s.Add(fileTrack(t, "late")); !errors.Is(err, ErrSessionDisconnected) {
		t.Errorf("Add after teardown = %v, want ErrSessionDisconnected", err)
	}
}

func TestSessionLoopTrack(t *testing.T) {
	sink := newFakeSink()
	sink.autoEnd = 5 * time.Millisecond
	s := NewSession(1, sink, Config{IdleTimeout: 100 * time.Millisecond})

	if _, err := s.ToggleLoopTrack(); err != nil {
		t.Fatal(err)
	}
	tr := fileTrack(t, "a")
	if err := s.Add(tr); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "track to replay", func() bool { return sink.playCount() >= 3 })
	if _, err := os.Stat(tr.Path()); err != nil {
		t.Fatal("looping track lost its file")
	}

	if _, err := s.ToggleLoopTrack(); err != nil {
		t.Fatal(err)
	}
	<-s.Done()
	if _, err := os.Stat(tr.Path()); !os.IsNotExist(err) {
		t.Error("file survived after loop ended")
	}
}

func TestSessionLoopQueue(t *testing.T) {
	sink := newFakeSink()
	sink.autoEnd = 5 * time.Millisecond
	onStart, started := startRecorder()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second, OnTrackStart: onStart})
	defer s.Disconnect()

	if _, err := s.ToggleLoopQueue(); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(fileTrack(t, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(fileTrack(t, "b")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "queue to cycle", func() bool { return len(started()) >= 4 })
	got := started()[:4]
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle order = %v, want %v", got, want)
		}
	}
}

func TestSessionSkip(t *testing.T) {
	sink := newFakeSink()
	onStart, started := startRecorder()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second, OnTrackStart: onStart})
	defer s.Disconnect()

	if err := s.Skip(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Skip with nothing playing = %v, want ErrNothingPlaying", err)
	}

	s.Add(fileTrack(t, "a"))
	s.Add(fileTrack(t, "b"))
	waitFor(t, "first track", func() bool { return s.NowPlaying() != nil })

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	waitFor(t, "second track", func() bool {
		o := started()
		return len(o) == 2 && o[1] == "b"
	})
}

func TestSessionPauseResume(t *testing.T) {
	sink := newFakeSink()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second})
	defer s.Disconnect()

	if err := s.Pause(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Pause idle = %v, want ErrNothingPlaying", err)
	}

	s.Add(fileTrack(t, "a"))
	waitFor(t, "playback", func() bool { return s.NowPlaying() != nil })

	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StatePaused || !sink.IsPaused() {
		t.Errorf("after Pause: state=%v paused=%v", s.State(), sink.IsPaused())
	}
	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StatePlaying || sink.IsPaused() {
		t.Errorf("after Resume: state=%v paused=%v", s.State(), sink.IsPaused())
	}
}

func TestSessionSkipWhilePausedStartsUnpaused(t *testing.T) {
	sink := newFakeSink()
	onStart, started := startRecorder()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second, OnTrackStart: onStart})
	defer s.Disconnect()

	s.Add(fileTrack(t, "a"))
	s.Add(fileTrack(t, "b"))
	waitFor(t, "playback", func() bool { return s.NowPlaying() != nil })

	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := s.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	waitFor(t, "next track", func() bool {
		o := started()
		return len(o) == 2 && o[1] == "b"
	})
	if sink.IsPaused() {
		t.Error("next track started with the sink paused")
	}
	if got := s.State(); got != StatePlaying {
		t.Errorf("State = %v, want playing", got)
	}
}

func TestSessionAddFirst(t *testing.T) {
	sink := newFakeSink()
	onStart, started := startRecorder()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second, OnTrackStart: onStart})
	defer s.Disconnect()

	s.Add(fileTrack(t, "a"))
	waitFor(t, "playback", func() bool { return s.NowPlaying() != nil })
	s.Add(fileTrack(t, "b"))
	if err := s.AddFirst(fileTrack(t, "c")); err != nil {
		t.Fatalf("AddFirst: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Raw != "raw:c" || snap[1].Raw != "raw:b" {
		t.Fatalf("queue after AddFirst = %v", snap)
	}
	if got := sink.playCount(); got != 1 {
		t.Errorf("AddFirst interrupted playback: plays = %d", got)
	}

	if err := s.Skip(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "front track to play", func() bool {
		o := started()
		return len(o) == 2 && o[1] == "c"
	})
}

func TestSessionReplayKeepsFile(t *testing.T) {
	sink := newFakeSink()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second})
	defer s.Disconnect()

	tr := fileTrack(t, "a")
	s.Add(tr)
	waitFor(t, "playback", func() bool { return s.NowPlaying() == tr })

	if err := s.Replay(); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	waitFor(t, "replay to start", func() bool { return sink.playCount() == 2 })
	if _, err := os.Stat(tr.Path()); err != nil {
		t.Fatal("replayed track lost its file")
	}

	sink.finish()
	waitFor(t, "file cleanup after final play", func() bool {
		_, err := os.Stat(tr.Path())
		return os.IsNotExist(err)
	})
}

func TestSessionResolutionFailureAdvances(t *testing.T) {
	sink := newFakeSink()
	sink.autoEnd = 5 * time.Millisecond
	onStart, started := startRecorder()
	var mu sync.Mutex
	var failed []string
	s := NewSession(1, sink, Config{
		IdleTimeout:  time.Second,
		OnTrackStart: onStart,
		OnTrackError: func(t *Track, err error) {
			mu.Lock()
			failed = append(failed, t.Raw)
			mu.Unlock()
		},
	})
	defer s.Disconnect()

	bad := NewTrack("raw:bad", 0, stubResolver{err: ErrResolutionFailed})
	s.Add(bad)
	s.Add(fileTrack(t, "good"))

	waitFor(t, "good track to play", func() bool {
		o := started()
		return len(o) == 1 && o[0] == "good"
	})
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "raw:bad" {
		t.Errorf("failures = %v, want [raw:bad]", failed)
	}
}

func TestSessionAdmission(t *testing.T) {
	sink := newFakeSink()
	set := Settings{MaxQueueLength: 1, PreventDuplicates: true}
	s := NewSession(1, sink, Config{
		IdleTimeout: time.Second,
		Settings:    func() Settings { return set },
	})
	defer s.Disconnect()

	cur := fileTrack(t, "a")
	if err := s.Add(cur); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback", func() bool { return s.NowPlaying() == cur })

	if err := s.Add(fileTrack(t, "b")); err != nil {
		t.Fatalf("Add within limit: %v", err)
	}
	if err := s.Add(fileTrack(t, "c")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Add over limit = %v, want ErrQueueFull", err)
	}

	dup := NewTrack(cur.Raw, 0, stubResolver{res: Resolved{ID: "a"}})
	set.MaxQueueLength = 0
	if err := s.Add(dup); !errors.Is(err, ErrDuplicateTrack) {
		t.Errorf("Add duplicate of current = %v, want ErrDuplicateTrack", err)
	}
}

func TestSessionSkipTo(t *testing.T) {
	sink := newFakeSink()
	onStart, started := startRecorder()
	s := NewSession(1, sink, Config{IdleTimeout: time.Second, OnTrackStart: onStart})
	defer s.Disconnect()

	s.Add(fileTrack(t, "a"))
	waitFor(t, "playback", func() bool { return s.NowPlaying() != nil })
	skipped1 := fileTrack(t, "b")
	skipped2 := fileTrack(t, "c")
	s.Add(skipped1)
	s.Add(skipped2)
	s.Add(fileTrack(t, "d"))

	if err := s.SkipTo(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("SkipTo(5) = %v, want ErrIndexOutOfRange", err)
	}
	if err := s.SkipTo(2); err != nil {
		t.Fatalf("SkipTo: %v", err)
	}
	waitFor(t, "target track", func() bool {
		o := started()
		return len(o) == 2 && o[1] == "d"
	})
	waitFor(t, "skipped tracks to be discarded", func() bool {
		_, err1 := os.Stat(skipped1.Path())
		_, err2 := os.Stat(skipped2.Path())
		return os.IsNotExist(err1) && os.IsNotExist(err2)
	})
}

func TestSessionDisconnect(t *testing.T) {
	sink := newFakeSink()
	s := NewSession(1, sink, Config{IdleTimeout: time.Hour})

	cur := fileTrack(t, "a")
	queued := fileTrack(t, "b")
	s.Add(cur)
	waitFor(t, "playback", func() bool { return s.NowPlaying() == cur })
	s.Add(queued)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown never finished")
	}
	if sink.IsConnected() {
		t.Error("sink still connected")
	}
	waitFor(t, "all files discarded", func() bool {
		_, err1 := os.Stat(cur.Path())
		_, err2 := os.Stat(queued.Path())
		return os.IsNotExist(err1) && os.IsNotExist(err2)
	})
	if err := s.Disconnect(); !errors.Is(err, ErrSessionDisconnected) {
		t.Errorf("second Disconnect = %v, want ErrSessionDisconnected", err)
	}
}
