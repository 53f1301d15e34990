// Package voice_api is the HTTP client for the voice backend: upload and
// transcription, reply lookup, speech synthesis and text messages.
package voice_api

import (
	"context"
	"fmt"
)

const (
	TranscribePath   = "/api/transcribe"
	LastResponsePath = "/api/last-response-tts"
	SpeakPath        = "/api/speak"
	TextMessagePath  = "/api/text-message"
	HealthPath       = "/api/health"
)

type VoiceAPI interface {
	Transcribe(ctx context.Context, upload Upload) (*TranscribeResponse, error)
	LastResponse(ctx context.Context) (*LastResponse, error)
	Speak(ctx context.Context, text string) (*SpeakResponse, error)
	SendText(ctx context.Context, text, webhookURL string) (*TranscribeResponse, error)
	Health(ctx context.Context) (*HealthResponse, error)
	BaseURL() string
}

// Upload is one recorded utterance sent as multipart form data.
type Upload struct {
	Filename   string
	MimeType   string
	Data       []byte
	WebhookURL string
}

type N8nResponse struct {
	Text string `json:"text"`
}

type TranscribeResponse struct {
	Success     bool         `json:"success"`
	Text        string       `json:"text"`
	N8nResponse *N8nResponse `json:"n8nResponse,omitempty"`
}

// ReplyText is the embedded automation reply, "" when absent.
func (r *TranscribeResponse) ReplyText() string {
	if r == nil || r.N8nResponse == nil {
		return ""
	}
	return r.N8nResponse.Text
}

type LastResponse struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
}

type SpeakResponse struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// StatusError is returned for every non-2xx response.
type StatusError struct {
	StatusCode int
	// Detail is the body's "detail" field, if any.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
