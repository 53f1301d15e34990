// Package playback plays reply audio and stops it on barge-in.
package playback

import (
	"context"
	"errors"
)

var (
	// ErrPlaybackFailed wraps fetch, decode and output failures at start.
	ErrPlaybackFailed = errors.New("playback failed")

	ErrNothingToReplay = errors.New("nothing to replay")
)

type Interface interface {
	// Play stops whatever is playing and starts audioURL. onComplete runs
	// exactly once: at the natural end, on interruption, or immediately
	// when starting fails.
	Play(ctx context.Context, audioURL string, onComplete func()) error
	// Interrupt pauses and rewinds the current audio and reports whether
	// anything was playing.
	Interrupt() bool
	// Replay restarts the last played audio from the beginning.
	Replay(ctx context.Context, onComplete func()) error
	Playing() bool
	// Position is the current offset in samples, 0 when stopped.
	Position() int
}

// Clip is decoded interleaved 16-bit PCM.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames is the clip length per channel.
func (c *Clip) Frames() int {
	if c == nil || c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Loader fetches audio bytes and their declared content type.
type Loader interface {
	Load(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// DecodeFunc turns fetched bytes into a clip.
type DecodeFunc func(data []byte, contentType string) (*Clip, error)

// Output opens a speaker stream for one clip.
type Output interface {
	Open(sampleRate, channels int) (Sink, error)
}

// Sink blocks in Write until the samples are queued to the device.
type Sink interface {
	Write(samples []int16) error
	Close() error
}
