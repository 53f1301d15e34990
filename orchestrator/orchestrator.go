package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"n8n-voice-interface/clients/voice_api"
	"n8n-voice-interface/conversation"
	"n8n-voice-interface/logging"
	"n8n-voice-interface/metrics"
	"n8n-voice-interface/recorder"
)

// DefaultReply is spoken when the automation produced no usable answer.
const DefaultReply = "I received your message, but the automation did not send a reply. Please try again."

const genericTranscriptionDetail = "transcription request failed"

type orchestratorImpl struct {
	client       voice_api.VoiceAPI
	player       Player
	observer     conversation.Observer
	logger       *zap.SugaredLogger
	metrics      *metrics.Metrics
	defaultReply string

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]request
	wg      sync.WaitGroup
}

// request is one unsettled submission. Ids may repeat, so entries are
// keyed by a per-submit sequence number.
type request struct {
	UtteranceID int
	StartedAt   time.Time
}

type Config struct {
	Client   voice_api.VoiceAPI
	Player   Player
	Observer conversation.Observer
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
	// DefaultReply defaults to the package DefaultReply.
	DefaultReply string
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if cfg.Player == nil {
		return nil, fmt.Errorf("player is nil")
	}

	observer := cfg.Observer
	if observer == nil {
		observer = conversation.Nop{}
	}

	defaultReply := cfg.DefaultReply
	if defaultReply == "" {
		defaultReply = DefaultReply
	}

	return &orchestratorImpl{
		client:       cfg.Client,
		player:       cfg.Player,
		observer:     observer,
		logger:       logging.OrNop(cfg.Logger),
		metrics:      cfg.Metrics,
		defaultReply: defaultReply,
		pending:      make(map[uint64]request),
	}, nil
}

func (o *orchestratorImpl) Submit(ctx context.Context, blob recorder.Blob, webhookURL string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return ErrNoWebhookConfigured
	}

	upload := voice_api.Upload{
		Filename:   blob.Filename(),
		MimeType:   blob.MimeType,
		Data:       blob.Data,
		WebhookURL: webhookURL,
	}

	o.start(ctx, blob.UtteranceID, func(ctx context.Context) (*voice_api.TranscribeResponse, error) {
		return o.client.Transcribe(ctx, upload)
	}, "transcribe")

	return nil
}

func (o *orchestratorImpl) SubmitText(ctx context.Context, id int, text, webhookURL string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return ErrNoWebhookConfigured
	}

	o.start(ctx, id, func(ctx context.Context) (*voice_api.TranscribeResponse, error) {
		return o.client.SendText(ctx, text, webhookURL)
	}, "text_message")

	return nil
}

func (o *orchestratorImpl) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *orchestratorImpl) Wait() {
	o.wg.Wait()
}

type sendFunc func(ctx context.Context) (*voice_api.TranscribeResponse, error)

func (o *orchestratorImpl) start(ctx context.Context, id int, send sendFunc, endpoint string) {
	key := o.register(id)
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer o.settle(key)

		o.process(ctx, id, send, endpoint)
	}()
}

func (o *orchestratorImpl) register(id int) uint64 {
	o.mu.Lock()
	o.seq++
	key := o.seq
	o.pending[key] = request{UtteranceID: id, StartedAt: time.Now()}
	n := len(o.pending)
	o.mu.Unlock()

	o.reportInFlight(n)
	return key
}

func (o *orchestratorImpl) settle(key uint64) {
	o.mu.Lock()
	req, ok := o.pending[key]
	delete(o.pending, key)
	n := len(o.pending)
	o.mu.Unlock()

	if ok {
		o.logger.Debugf("utterance %d settled after %s", req.UtteranceID, time.Since(req.StartedAt).Round(time.Millisecond))
	}

	o.reportInFlight(n)
}

func (o *orchestratorImpl) reportInFlight(n int) {
	o.metrics.SetInFlight(n)
	o.observer.OnRequestsInFlight(n)
}

func (o *orchestratorImpl) process(ctx context.Context, id int, send sendFunc, endpoint string) {
	began := time.Now()
	resp, err := send(ctx)
	o.record(endpoint, began, err)

	if err != nil {
		terr := transcriptionError(err)
		o.logger.Errorf("error processing utterance %d: %v", id, err)
		o.observer.OnUtteranceError(id, terr.Error())
		return
	}

	o.logger.Infof("utterance %d transcribed: %q", id, resp.Text)
	o.observer.OnTranscriptionReady(id, resp.Text)

	text, audioURL := o.resolveReply(ctx, id, resp)
	o.deliver(ctx, id, text, audioURL)
}

// resolveReply prefers the embedded reply, then the last stored reply,
// then the default one.
func (o *orchestratorImpl) resolveReply(ctx context.Context, id int, resp *voice_api.TranscribeResponse) (string, string) {
	if text := resp.ReplyText(); text != "" {
		return text, ""
	}

	began := time.Now()
	last, err := o.client.LastResponse(ctx)
	o.record("last_response", began, err)

	switch {
	case err != nil:
		o.logger.Warnf("error fetching last response for utterance %d: %v", id, err)
	case strings.TrimSpace(last.Text) != "":
		return last.Text, last.AudioURL
	default:
		o.logger.Debugf("no stored reply for utterance %d", id)
	}

	return o.defaultReply, ""
}

func (o *orchestratorImpl) deliver(ctx context.Context, id int, text, audioURL string) {
	if audioURL == "" {
		began := time.Now()
		spoken, err := o.client.Speak(ctx, text)
		o.record("speak", began, err)

		if err != nil {
			o.logger.Errorf("error synthesizing reply for utterance %d: %v", id, err)
			o.observer.OnReplyReady(id, text, "")
			o.observer.OnUtteranceError(id, ErrSpeechSynthesisFailed.Error())
			return
		}

		audioURL = spoken.AudioURL
	}

	o.observer.OnReplyReady(id, text, audioURL)

	if err := o.player.Play(ctx, audioURL, nil); err != nil {
		o.logger.Errorf("error playing reply for utterance %d: %v", id, err)
		o.observer.OnUtteranceError(id, err.Error())
	}
}

func (o *orchestratorImpl) record(endpoint string, began time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordRequest(endpoint, status, time.Since(began))
}

func transcriptionError(err error) *TranscriptionError {
	var statusErr *voice_api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Detail != "" {
			return &TranscriptionError{Detail: statusErr.Detail}
		}
		return &TranscriptionError{Detail: fmt.Sprintf("%s (status %d)", genericTranscriptionDetail, statusErr.StatusCode)}
	}

	if errors.Is(err, context.Canceled) {
		return &TranscriptionError{Detail: "request canceled"}
	}

	return &TranscriptionError{Detail: genericTranscriptionDetail}
}
