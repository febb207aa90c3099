package player

import "errors"

var (
	// ErrResolutionFailed is returned when a resolver cannot produce a playable
	// local file: unsupported URL shape, missing attachment, unknown audio
	// extension, or an external-process failure.
	ErrResolutionFailed = errors.New("could not resolve a playable audio source")

	// ErrSessionDisconnected is returned by every operation attempted after a
	// session has been torn down.
	ErrSessionDisconnected = errors.New("session is disconnected")

	// ErrIndexOutOfRange is returned by queue edits with an invalid index.
	ErrIndexOutOfRange = errors.New("queue index out of range")

	// ErrNoActiveSession is returned when a command targets a key with no live
	// session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrCallerNotConnected is returned when join/play is requested without a
	// reachable voice channel to connect to.
	ErrCallerNotConnected = errors.New("caller is not connected to a voice channel")

	// ErrQueueFull is returned when the per-guild max queue length is reached.
	ErrQueueFull = errors.New("queue is full")

	// ErrDuplicateTrack is returned when duplicate prevention rejects an add.
	ErrDuplicateTrack = errors.New("track is already queued")

	// ErrNothingPlaying is returned by skip/replay when no track is active.
	ErrNothingPlaying = errors.New("nothing is playing")
)
