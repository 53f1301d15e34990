// Package listener runs a listening session: it polls the capture level,
// drives the segmenter from voice activity, interrupts replies on
// barge-in and hands finished utterances to the orchestrator.
package listener

import (
	"context"
	"errors"

	"n8n-voice-interface/recorder"
)

// ErrAlreadyListening is returned when ListenLoop is entered twice.
var ErrAlreadyListening = errors.New("already listening")

type Mode string

const (
	// ModeVAD segments on speech start and silence timeout.
	ModeVAD Mode = "vad"
	// ModeContinuous records fixed segments without voice detection or
	// barge-in.
	ModeContinuous Mode = "continuous"
)

type Interface interface {
	// ListenLoop blocks until HaltListening, ctx cancellation or a capture
	// failure. Failing to acquire the microphone is returned as is.
	ListenLoop(ctx context.Context) error
	// HaltListening stops polling, discards the utterance in progress and
	// releases the microphone before returning. Requests already submitted
	// keep running.
	HaltListening()
}

// Submitter receives finished utterances.
type Submitter interface {
	Submit(ctx context.Context, blob recorder.Blob, webhookURL string) error
}

// Interrupter stops reply playback on barge-in.
type Interrupter interface {
	Interrupt() bool
}

// WebhookSource provides the currently configured webhook URL.
type WebhookSource interface {
	Get() string
}
