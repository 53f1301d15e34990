package voice_api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"n8n-voice-interface/logging"
)

const defaultTimeout = 60 * time.Second

type clientImpl struct {
	baseURL string
	http    *resty.Client
	logger  *zap.SugaredLogger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

func NewClient(cfg *Config) (VoiceAPI, error) {
	if cfg == nil {
		return nil, errors.New("missing parameter: cfg")
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("missing parameter: cfg.BaseURL")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &clientImpl{
		baseURL: baseURL,
		http:    httpClient,
		logger:  logging.OrNop(cfg.Logger),
	}, nil
}

func (client *clientImpl) BaseURL() string {
	return client.baseURL
}

func (client *clientImpl) request(ctx context.Context, result interface{}) *resty.Request {
	return client.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetResult(result).
		SetError(&errorBody{})
}

func (client *clientImpl) Transcribe(ctx context.Context, upload Upload) (*TranscribeResponse, error) {
	out := &TranscribeResponse{}

	resp, err := client.request(ctx, out).
		SetMultipartField("audio", upload.Filename, upload.MimeType, bytes.NewReader(upload.Data)).
		SetMultipartFormData(map[string]string{"webhook_url": upload.WebhookURL}).
		Post(TranscribePath)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", upload.Filename, err)
	}

	client.logger.Debugf("transcribe %s (%d bytes): %s", upload.Filename, len(upload.Data), resp.Status())

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return out, nil
}

func (client *clientImpl) LastResponse(ctx context.Context) (*LastResponse, error) {
	out := &LastResponse{}

	resp, err := client.request(ctx, out).Get(LastResponsePath)
	if err != nil {
		return nil, fmt.Errorf("get last response: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return out, nil
}

func (client *clientImpl) Speak(ctx context.Context, text string) (*SpeakResponse, error) {
	out := &SpeakResponse{}

	resp, err := client.request(ctx, out).
		SetBody(map[string]string{"text": text}).
		Post(SpeakPath)
	if err != nil {
		return nil, fmt.Errorf("speak: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	if out.AudioURL == "" {
		return nil, errors.New("speak: response has no audio_url")
	}

	return out, nil
}

func (client *clientImpl) SendText(ctx context.Context, text, webhookURL string) (*TranscribeResponse, error) {
	out := &TranscribeResponse{}

	resp, err := client.request(ctx, out).
		SetBody(map[string]string{"text": text, "webhook_url": webhookURL}).
		Post(TextMessagePath)
	if err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return out, nil
}

func (client *clientImpl) Health(ctx context.Context) (*HealthResponse, error) {
	out := &HealthResponse{}

	resp, err := client.request(ctx, out).Get(HealthPath)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return out, nil
}

func checkStatus(resp *resty.Response) error {
	if !resp.IsError() && resp.StatusCode() < 300 {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		statusErr.Detail = body.Detail
	}

	return statusErr
}
