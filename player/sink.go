package player

import "io"

// Sink is the audio output a session plays into, typically a voice connection.
//
// Play takes ownership of src and starts playback without blocking. The sink
// calls onComplete exactly once, when the stream ends or Stop interrupts it.
// Stop is idempotent and a no-op while nothing is playing. Disconnect tears
// the output down; after it returns, IsConnected reports false.
type Sink interface {
	Play(src io.ReadCloser, onComplete func()) error
	Pause()
	Resume()
	IsPaused() bool
	IsConnected() bool
	Stop()
	Disconnect()
}
