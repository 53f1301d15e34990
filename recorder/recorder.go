package recorder

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"n8n-voice-interface/logging"
)

const (
	defaultTimeslice  = 100 * time.Millisecond
	defaultSampleRate = 16000
	defaultChannels   = 1
)

type recorderImpl struct {
	sink       Sink
	logger     *zap.SugaredLogger
	mimeType   string
	sampleRate int
	channels   int
	sliceBytes int

	// emitMu is held across sink calls so events stay ordered; mu guards
	// state only, so Start and Stop never wait on a slow sink.
	emitMu      sync.Mutex
	mu          sync.Mutex
	state       State
	utteranceID int
	pending     []byte
}

type Config struct {
	Sink       Sink
	Logger     *zap.SugaredLogger
	SampleRate int
	Channels   int
	Timeslice  time.Duration
	// Supports probes container support; nil means the recorder's own.
	Supports func(mimeType string) bool
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}

	logger := logging.OrNop(cfg.Logger)

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = defaultChannels
	}

	timeslice := cfg.Timeslice
	if timeslice <= 0 {
		timeslice = defaultTimeslice
	}

	supports := cfg.Supports
	if supports == nil {
		supports = Supports
	}

	mimeType := SelectMimeType(supports)
	if mimeType == "" {
		logger.Warnf("none of the preferred recording types %v is supported, using %s", MimePreferences, DefaultMimeType)
	} else {
		logger.Debugf("recording as %s", mimeType)
	}

	return &recorderImpl{
		sink:       cfg.Sink,
		logger:     logger,
		mimeType:   mimeType,
		sampleRate: sampleRate,
		channels:   channels,
		sliceBytes: int(float64(sampleRate*channels*2) * timeslice.Seconds()),
	}, nil
}

func (r *recorderImpl) Start(utteranceID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInactive {
		return fmt.Errorf("start utterance %d while %s: %w", utteranceID, r.state, ErrInvalidState)
	}

	r.state = StateRecording
	r.utteranceID = utteranceID
	r.pending = r.pending[:0]

	return nil
}

// Stop returns immediately; the final chunk and EventStopped are
// delivered from another goroutine.
func (r *recorderImpl) Stop() error {
	r.mu.Lock()
	if r.state != StateRecording {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("stop while %s: %w", state, ErrInvalidState)
	}

	r.state = StateStopping
	r.mu.Unlock()

	go r.finish()

	return nil
}

func (r *recorderImpl) finish() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	id := r.utteranceID
	var last []byte
	if len(r.pending) > 0 {
		last = r.cut()
	}
	r.state = StateInactive
	r.mu.Unlock()

	if last != nil {
		r.sink(Event{Kind: EventDataAvailable, UtteranceID: id, Data: last})
	}
	r.sink(Event{Kind: EventStopped, UtteranceID: id})
}

// Write is fed from the capture goroutine. Frames outside a recording
// are dropped.
func (r *recorderImpl) Write(samples []int16) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return
	}

	for _, s := range samples {
		r.pending = binary.LittleEndian.AppendUint16(r.pending, uint16(s))
	}

	id := r.utteranceID
	var chunk []byte
	if len(r.pending) >= r.sliceBytes {
		chunk = r.cut()
	}
	r.mu.Unlock()

	if chunk != nil {
		r.sink(Event{Kind: EventDataAvailable, UtteranceID: id, Data: chunk})
	}
}

// cut must be called with mu held.
func (r *recorderImpl) cut() []byte {
	chunk := make([]byte, len(r.pending))
	copy(chunk, r.pending)
	r.pending = r.pending[:0]
	return chunk
}

func (r *recorderImpl) Assemble(utteranceID int, chunks [][]byte) (Blob, error) {
	data, err := encodeWave(chunks, r.sampleRate, r.channels)
	if err != nil {
		return Blob{}, fmt.Errorf("assemble utterance %d: %w", utteranceID, err)
	}

	return Blob{
		UtteranceID: utteranceID,
		Data:        data,
		MimeType:    r.MimeType(),
	}, nil
}

func (r *recorderImpl) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MimeType is the negotiated type, or DefaultMimeType when negotiation
// found nothing.
func (r *recorderImpl) MimeType() string {
	if r.mimeType == "" {
		return DefaultMimeType
	}
	return r.mimeType
}
