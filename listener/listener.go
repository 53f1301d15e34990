package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"n8n-voice-interface/capture"
	"n8n-voice-interface/conversation"
	"n8n-voice-interface/logging"
	"n8n-voice-interface/metrics"
	"n8n-voice-interface/recorder"
	"n8n-voice-interface/segmenter"
	"n8n-voice-interface/vad"
)

const (
	defaultSegmentInterval = time.Second
	eventBuffer            = 64
)

type session struct {
	id      string
	ctx     context.Context
	logger  *zap.SugaredLogger
	halt    func()
	haltC   chan struct{}
	done    chan struct{}
	closing chan struct{}
}

type voiceImpl struct {
	capture     capture.Interface
	constraints capture.Constraints
	recorder    recorder.Interface
	segmenter   segmenter.Interface
	detector    *vad.Detector
	player      Interrupter
	submitter   Submitter
	webhook     WebhookSource
	observer    conversation.Observer
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger

	mode            Mode
	segmentInterval time.Duration

	events chan recorder.Event

	mu      sync.Mutex
	current *session

	// owned by the loop goroutine
	announced int
}

type Config struct {
	Capture     capture.Interface
	Constraints capture.Constraints
	Player      Interrupter
	Submitter   Submitter
	Webhook     WebhookSource
	Observer    conversation.Observer
	Metrics     *metrics.Metrics
	Logger      *zap.SugaredLogger

	VAD             vad.Config
	Mode            Mode
	SegmentInterval time.Duration
	MinBlobBytes    int
	// RecorderTimeslice defaults to the recorder's 100ms.
	RecorderTimeslice time.Duration
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Capture == nil {
		return nil, fmt.Errorf("capture is nil")
	}

	if cfg.Player == nil {
		return nil, fmt.Errorf("player is nil")
	}

	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is nil")
	}

	if cfg.Webhook == nil {
		return nil, fmt.Errorf("webhook source is nil")
	}

	mode := cfg.Mode
	switch mode {
	case "":
		mode = ModeVAD
	case ModeVAD, ModeContinuous:
	default:
		return nil, fmt.Errorf("unknown listening mode %q", mode)
	}

	observer := cfg.Observer
	if observer == nil {
		observer = conversation.Nop{}
	}

	constraints := cfg.Constraints
	if constraints.SampleRate == 0 {
		constraints = capture.DefaultConstraints()
	}

	segmentInterval := cfg.SegmentInterval
	if segmentInterval <= 0 {
		segmentInterval = defaultSegmentInterval
	}

	v := &voiceImpl{
		capture:         cfg.Capture,
		constraints:     constraints,
		detector:        vad.New(cfg.VAD),
		player:          cfg.Player,
		submitter:       cfg.Submitter,
		webhook:         cfg.Webhook,
		observer:        observer,
		metrics:         cfg.Metrics,
		logger:          logging.OrNop(cfg.Logger),
		mode:            mode,
		segmentInterval: segmentInterval,
		events:          make(chan recorder.Event, eventBuffer),
	}

	rec, err := recorder.New(&recorder.Config{
		Sink:       v.sink,
		Logger:     v.logger,
		SampleRate: constraints.SampleRate,
		Channels:   constraints.Channels,
		Timeslice:  cfg.RecorderTimeslice,
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	seg, err := segmenter.New(&segmenter.Config{
		Recorder:     rec,
		Submitter:    segmenter.SubmitterFunc(v.submit),
		Logger:       v.logger,
		MinBlobBytes: cfg.MinBlobBytes,
		OnOutcome:    v.outcome,
	})
	if err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}

	v.recorder = rec
	v.segmenter = seg

	cfg.Capture.OnFrame(rec.Write)

	return v, nil
}

func (v *voiceImpl) ListenLoop(ctx context.Context) error {
	s, err := v.begin(ctx)
	if err != nil {
		return err
	}
	defer v.end(s)

	if err := v.capture.Acquire(ctx, v.constraints); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	defer v.teardown(s)

	s.logger.Infof("starting to listen (%s mode)", v.mode)
	v.observer.OnRequestsInFlight(0)

	ticker := time.NewTicker(v.detector.Config().CheckInterval)
	defer ticker.Stop()

	var segmentC <-chan time.Time
	if v.mode == ModeContinuous {
		segmentTicker := time.NewTicker(v.segmentInterval)
		defer segmentTicker.Stop()
		segmentC = segmentTicker.C

		v.segmenter.SpeechStart()
		v.announce()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("exiting gracefully")
			return nil
		case <-s.haltC:
			s.logger.Infof("waiting due to halt")
			return nil
		case ev := <-v.events:
			v.segmenter.RecorderEvent(ev)
			v.announce()
		case now := <-ticker.C:
			if !v.tick(s, now) {
				return nil
			}
		case <-segmentC:
			v.segmenter.SilenceTimeout()
			v.segmenter.SpeechStart()
			v.announce()
		}
	}
}

func (v *voiceImpl) HaltListening() {
	v.mu.Lock()
	s := v.current
	v.mu.Unlock()

	if s == nil {
		return
	}

	s.halt()
	<-s.done
}

// tick runs one detector step; false ends the session.
func (v *voiceImpl) tick(s *session, now time.Time) bool {
	level, err := v.capture.SampleLevel()
	if errors.Is(err, capture.ErrNotAcquired) {
		s.logger.Infof("microphone released, polling stopped")
		return false
	}
	if err != nil {
		s.logger.Warnf("error sampling level: %v", err)
		return true
	}

	v.observer.OnVisualizationLevel(level)

	if v.mode == ModeContinuous {
		return true
	}

	sample, edge := v.detector.Observe(now, level, v.segmenter.Recording())

	if sample.AboveThreshold && v.player.Interrupt() {
		v.observer.OnPlaybackInterrupted()
	}

	switch edge {
	case vad.EdgeSpeechStart:
		s.logger.Debugf("speech started at level %.1f", level)
		v.segmenter.SpeechStart()
		v.announce()
	case vad.EdgeSilenceTimeout:
		s.logger.Debugf("silence timeout, finalizing utterance %d", v.segmenter.CurrentID())
		v.segmenter.SilenceTimeout()
	}

	return true
}

// announce reports a newly started recording once.
func (v *voiceImpl) announce() {
	id := v.segmenter.CurrentID()
	if v.segmenter.Recording() && id != v.announced {
		v.announced = id
		v.observer.OnUtteranceStarted(id)
	}
}

func (v *voiceImpl) submit(blob recorder.Blob) {
	v.mu.Lock()
	s := v.current
	v.mu.Unlock()

	ctx := context.Background()
	logger := v.logger
	if s != nil {
		// requests outlive the session so halting lets them settle
		ctx = context.WithoutCancel(s.ctx)
		logger = s.logger
	}

	if err := v.submitter.Submit(ctx, blob, v.webhook.Get()); err != nil {
		logger.Warnf("utterance %d not submitted: %v", blob.UtteranceID, err)
		v.observer.OnUtteranceError(blob.UtteranceID, err.Error())
	}
}

func (v *voiceImpl) outcome(id int, outcome segmenter.Outcome) {
	v.metrics.RecordUtterance(string(outcome))
	v.logger.Debugf("utterance %d %s", id, outcome)
}

// sink is the recorder's event callback. It never blocks once the
// session is closing, so Release cannot wait on the loop.
func (v *voiceImpl) sink(ev recorder.Event) {
	v.mu.Lock()
	s := v.current
	v.mu.Unlock()

	if s == nil {
		return
	}

	select {
	case v.events <- ev:
	case <-s.closing:
	}
}

func (v *voiceImpl) begin(ctx context.Context) (*session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current != nil {
		return nil, ErrAlreadyListening
	}

	id := uuid.NewString()
	haltC := make(chan struct{})

	s := &session{
		id:      id,
		ctx:     ctx,
		logger:  v.logger.With("session", id),
		halt:    sync.OnceFunc(func() { close(haltC) }),
		haltC:   haltC,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	v.current = s

	return s, nil
}

func (v *voiceImpl) teardown(s *session) {
	close(s.closing)

	v.segmenter.StopListening()
	v.capture.Release()
	v.detector.Reset()

	for {
		select {
		case <-v.events:
		default:
			v.observer.OnVisualizationLevel(0)
			s.logger.Infof("stopped listening")
			return
		}
	}
}

func (v *voiceImpl) end(s *session) {
	v.mu.Lock()
	if v.current == s {
		v.current = nil
	}
	v.mu.Unlock()

	close(s.done)
}
