// Package orchestrator uploads finished utterances, tracks the requests in
// flight and turns each response into a spoken reply.
package orchestrator

import (
	"context"
	"errors"

	"n8n-voice-interface/recorder"
)

var (
	// ErrNoWebhookConfigured blocks submission until a webhook URL is set.
	ErrNoWebhookConfigured = errors.New("no webhook URL configured")

	ErrTranscriptionFailed   = errors.New("transcription failed")
	ErrSpeechSynthesisFailed = errors.New("speech synthesis failed")
)

// TranscriptionError carries the backend's explanation, when it gave one.
type TranscriptionError struct {
	Detail string
}

func (e *TranscriptionError) Error() string {
	return e.Detail
}

func (e *TranscriptionError) Is(target error) bool {
	return target == ErrTranscriptionFailed
}

// Player is the part of the playback controller replies are sent to.
type Player interface {
	Play(ctx context.Context, audioURL string, onComplete func()) error
}

type Interface interface {
	// Submit starts processing blob in the background. It fails only with
	// ErrNoWebhookConfigured.
	Submit(ctx context.Context, blob recorder.Blob, webhookURL string) error
	// SubmitText sends a typed message through the same reply path.
	SubmitText(ctx context.Context, id int, text, webhookURL string) error
	InFlight() int
	// Wait blocks until every submitted request has settled.
	Wait()
}
