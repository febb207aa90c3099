package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"

	"github.com/leeineian/hibiki/player"
	"github.com/leeineian/hibiki/sys"
)

// voiceSink adapts a disgo voice connection to the player.Sink contract.
// Pause state is a channel gate: pauseChan is closed while unpaused, so the
// frame provider blocks on it only while paused.
type voiceSink struct {
	conn voice.Conn

	mu         sync.Mutex
	connected  bool
	paused     bool
	pauseChan  chan struct{}
	playCancel context.CancelFunc
	finish     func()
	gen        uint64
}

func newVoiceSink(conn voice.Conn) *voiceSink {
	s := &voiceSink{
		conn:      conn,
		connected: true,
		pauseChan: make(chan struct{}),
	}
	close(s.pauseChan)
	return s
}

func (s *voiceSink) pauseGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseChan
}

func (s *voiceSink) Play(src io.ReadCloser, onComplete func()) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		src.Close()
		return errors.New("voice connection is closed")
	}
	if s.playCancel != nil {
		s.mu.Unlock()
		src.Close()
		return errors.New("a track is already playing")
	}
	// Each play starts with the gate open, whatever the previous track left.
	if s.paused {
		s.paused = false
		close(s.pauseChan)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	fire := func() {
		once.Do(func() {
			if onComplete != nil {
				onComplete()
			}
		})
	}
	s.playCancel = cancel
	s.finish = fire
	s.gen++
	myGen := s.gen

	p := newOpusProvider(ctx, s.pauseGate)
	p.OnFinish = func() {
		s.mu.Lock()
		if s.gen == myGen && s.playCancel != nil {
			s.playCancel()
			s.playCancel = nil
			s.finish = nil
		}
		s.mu.Unlock()
		fire()
	}
	s.mu.Unlock()

	go func() {
		defer p.PushFrame(nil)
		defer src.Close()

		t := newOpusTranscoder()
		defer t.Close()
		if err := t.OpenInput(src); err != nil {
			sys.LogVoice("Transcoder OpenInput failed: %v", err)
			return
		}
		if err := t.SetupDecoder(); err != nil {
			sys.LogVoice("Transcoder SetupDecoder failed: %v", err)
			return
		}
		if err := t.SetupEncoder(); err != nil {
			sys.LogVoice("Transcoder SetupEncoder failed: %v", err)
			return
		}
		if err := t.Transcode(ctx, p.PushFrame); err != nil && !errors.Is(err, context.Canceled) {
			sys.LogVoice("Transcoder finished with error: %v", err)
		}
	}()

	s.setOpusFrameProviderSafe(p)
	s.setSpeakingSafe(ctx, voice.SpeakingFlagMicrophone)
	return nil
}

// Stop ends the current playback, if any. The pending completion callback
// still fires exactly once.
func (s *voiceSink) Stop() {
	s.mu.Lock()
	cancel := s.playCancel
	fire := s.finish
	s.playCancel = nil
	s.finish = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.setOpusFrameProviderSafe(nil)
	s.setSpeakingSafe(context.Background(), 0)
	if fire != nil {
		fire()
	}
}

func (s *voiceSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.pauseChan = make(chan struct{})
}

func (s *voiceSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.pauseChan)
}

func (s *voiceSink) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *voiceSink) IsConnected() bool {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	return connected && s.conn.ChannelID() != nil
}

func (s *voiceSink) Disconnect() {
	s.Stop()

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	if s.paused {
		s.paused = false
		close(s.pauseChan)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.conn.Close(ctx)
}

// The gateway handshake can race provider registration, so both setters retry
// briefly and swallow panics from a connection torn down mid-call.

func (s *voiceSink) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	for i := range 3 {
		if s.trySetOpusFrameProvider(provider) {
			return
		}
		if i < 2 {
			time.Sleep(150 * time.Millisecond)
		}
	}
	sys.LogVoice("Exhausted retries for SetOpusFrameProvider")
}

func (s *voiceSink) trySetOpusFrameProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	s.conn.SetOpusFrameProvider(provider)
	return true
}

func (s *voiceSink) setSpeakingSafe(ctx context.Context, flags voice.SpeakingFlags) {
	for i := range 3 {
		if s.trySetSpeaking(ctx, flags) {
			return
		}
		if i < 2 {
			time.Sleep(150 * time.Millisecond)
		}
	}
	sys.LogVoice("Exhausted retries for SetSpeaking")
}

func (s *voiceSink) trySetSpeaking(ctx context.Context, flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	s.conn.SetSpeaking(ctx, flags)
	return true
}

var _ player.Sink = (*voiceSink)(nil)
