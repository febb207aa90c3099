package player

import (
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func TestRegistryGetOrCreateReturnsExisting(t *testing.T) {
	r := NewRegistry()
	connects := 0
	connect := func() (Sink, error) {
		connects++
		return newFakeSink(), nil
	}
	cfg := Config{IdleTimeout: time.Hour}

	s1, err := r.GetOrCreate(1, connect, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := r.GetOrCreate(1, connect, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s1 != s2 {
		t.Error("two sessions created for the same key")
	}
	if connects != 1 {
		t.Errorf("connect called %d times, want 1", connects)
	}
	r.Shutdown()
}

func TestRegistryGetOrCreateConnectError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("voice gateway unreachable")
	if _, err := r.GetOrCreate(1, func() (Sink, error) { return nil, boom }, Config{}); !errors.Is(err, boom) {
		t.Fatalf("GetOrCreate = %v, want connect error", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after failed connect, want 0", r.Len())
	}
}

func TestRegistryGetHidesDeadSessions(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(1); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Get on empty registry = %v, want ErrNoActiveSession", err)
	}

	s, err := r.GetOrCreate(1, func() (Sink, error) { return newFakeSink(), nil }, Config{IdleTimeout: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := r.Get(1); err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}

	s.Disconnect()
	<-s.Done()
	if _, err := r.Get(1); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Get after disconnect = %v, want ErrNoActiveSession", err)
	}

	// A new session can be created under the same key.
	s2, err := r.GetOrCreate(1, func() (Sink, error) { return newFakeSink(), nil }, Config{IdleTimeout: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Error("dead session was handed out again")
	}
	r.Shutdown()
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry()
	healthy := newFakeSink()
	stale := newFakeSink()
	cfg := Config{IdleTimeout: time.Hour}

	if _, err := r.GetOrCreate(1, func() (Sink, error) { return healthy, nil }, cfg); err != nil {
		t.Fatal(err)
	}
	sStale, err := r.GetOrCreate(2, func() (Sink, error) { return stale, nil }, cfg)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate the voice connection dropping out from under session 2.
	stale.mu.Lock()
	stale.connected = false
	stale.mu.Unlock()

	if n := r.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	<-sStale.Done()
	if r.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", r.Len())
	}
	if _, err := r.Get(1); err != nil {
		t.Errorf("healthy session swept away: %v", err)
	}
	r.Shutdown()
}

func TestRegistryShutdown(t *testing.T) {
	r := NewRegistry()
	cfg := Config{IdleTimeout: time.Hour}
	for key := snowflake.ID(1); key <= 3; key++ {
		if _, err := r.GetOrCreate(key, func() (Sink, error) { return newFakeSink(), nil }, cfg); err != nil {
			t.Fatal(err)
		}
	}
	r.Shutdown()
	for key := snowflake.ID(1); key <= 3; key++ {
		if _, err := r.Get(key); !errors.Is(err, ErrNoActiveSession) {
			t.Errorf("Get(%d) after Shutdown = %v, want ErrNoActiveSession", key, err)
		}
	}
}
