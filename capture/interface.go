// Package capture owns the microphone stream and its analysis graph for
// one listening period.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned when the platform denies or lacks a
	// microphone. Retrying Acquire is allowed.
	ErrDeviceUnavailable = errors.New("microphone unavailable")

	// ErrNotAcquired is returned by SampleLevel once the session is released.
	ErrNotAcquired = errors.New("capture session not acquired")

	// ErrAlreadyAcquired is returned when Acquire is called twice without
	// an intervening Release.
	ErrAlreadyAcquired = errors.New("capture session already acquired")
)

// Constraints are the stream hints passed to the device.
type Constraints struct {
	Channels        int
	SampleRate      int
	FramesPerBuffer int
}

// DefaultConstraints asks for 16 kHz mono in 32 ms frames.
func DefaultConstraints() Constraints {
	return Constraints{
		Channels:        1,
		SampleRate:      16000,
		FramesPerBuffer: 512,
	}
}

// FrameHandler receives every captured PCM frame. It runs on the capture
// goroutine and must not block.
type FrameHandler func(samples []int16)

type Interface interface {
	Acquire(ctx context.Context, constraints Constraints) error
	Release()
	SampleLevel() (float64, error)
	OnFrame(handler FrameHandler)
	Acquired() bool
}

// Device opens microphone streams.
type Device interface {
	OpenInput(constraints Constraints) (Stream, error)
}

// Stream is a started-on-demand blocking input stream.
type Stream interface {
	Start() error
	Read() ([]int16, error)
	Stop() error
	Close() error
}
