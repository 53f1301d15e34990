// Package segmenter turns speech-start and silence-timeout edges into one
// recorded blob per utterance.
package segmenter

import (
	"n8n-voice-interface/recorder"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Outcome describes how an utterance left the segmenter.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeAborted   Outcome = "aborted"
)

// Recorder is the part of recorder.Interface the segmenter drives.
type Recorder interface {
	Start(utteranceID int) error
	Stop() error
	Assemble(utteranceID int, chunks [][]byte) (recorder.Blob, error)
}

// Submitter receives every blob large enough to upload.
type Submitter interface {
	Submit(blob recorder.Blob)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(blob recorder.Blob)

func (f SubmitterFunc) Submit(blob recorder.Blob) { f(blob) }

// Interface is not safe for concurrent use; all calls come from the
// listener loop.
type Interface interface {
	SpeechStart()
	SilenceTimeout()
	RecorderEvent(ev recorder.Event)
	StopListening()
	State() State
	Recording() bool
	CurrentID() int
}
