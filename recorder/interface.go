// Package recorder buffers microphone frames for one utterance at a time
// and delivers them as timed chunks, in the manner of a media recorder.
package recorder

import "errors"

// ErrInvalidState is returned by Start while recording and by Stop while
// inactive.
var ErrInvalidState = errors.New("recorder in invalid state")

type State int

const (
	StateInactive State = iota
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	// EventDataAvailable carries one chunk of little-endian PCM.
	EventDataAvailable EventKind = iota
	// EventStopped follows the final chunk of an utterance.
	EventStopped
)

// Event is tagged with the utterance it belongs to so consumers can drop
// stragglers from a discarded recording.
type Event struct {
	Kind        EventKind
	UtteranceID int
	Data        []byte
}

// Sink receives recorder events in order. It may be called from the
// capture goroutine or from the goroutine completing a Stop.
type Sink func(ev Event)

type Interface interface {
	Start(utteranceID int) error
	Stop() error
	Write(samples []int16)
	Assemble(utteranceID int, chunks [][]byte) (Blob, error)
	State() State
	MimeType() string
}
