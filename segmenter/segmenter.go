package segmenter

import (
	"fmt"

	"go.uber.org/zap"

	"n8n-voice-interface/logging"
	"n8n-voice-interface/recorder"
)

// DefaultMinBlobBytes is the smallest blob that is submitted.
const DefaultMinBlobBytes = 1000

type input int

const (
	inputSpeechStart input = iota
	inputSilenceTimeout
	inputStopCompleted
	inputStopListening
)

type action int

const (
	actionNone action = iota
	actionStartRecording
	actionStopRecording
	actionFinalize
	actionDiscard
	// actionDefer queues a restart once the pending stop completes.
	actionDefer
)

// transition is the pure state table.
func transition(state State, in input) (State, action) {
	switch state {
	case StateIdle:
		if in == inputSpeechStart {
			return StateRecording, actionStartRecording
		}
	case StateRecording:
		switch in {
		case inputSilenceTimeout:
			return StateFinalizing, actionStopRecording
		case inputStopListening:
			return StateIdle, actionDiscard
		}
	case StateFinalizing:
		switch in {
		case inputStopCompleted:
			return StateIdle, actionFinalize
		case inputSpeechStart:
			return StateFinalizing, actionDefer
		case inputStopListening:
			return StateIdle, actionDiscard
		}
	}

	return state, actionNone
}

type segmenterImpl struct {
	recorder     Recorder
	submitter    Submitter
	logger       *zap.SugaredLogger
	minBlobBytes int
	onOutcome    func(id int, outcome Outcome)

	state          State
	nextID         int
	currentID      int
	chunks         [][]byte
	restartPending bool
}

type Config struct {
	Recorder  Recorder
	Submitter Submitter
	Logger    *zap.SugaredLogger
	// MinBlobBytes defaults to DefaultMinBlobBytes.
	MinBlobBytes int
	// OnOutcome is optional.
	OnOutcome func(id int, outcome Outcome)
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Recorder == nil {
		return nil, fmt.Errorf("recorder is nil")
	}

	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is nil")
	}

	minBlobBytes := cfg.MinBlobBytes
	if minBlobBytes <= 0 {
		minBlobBytes = DefaultMinBlobBytes
	}

	onOutcome := cfg.OnOutcome
	if onOutcome == nil {
		onOutcome = func(int, Outcome) {}
	}

	return &segmenterImpl{
		recorder:     cfg.Recorder,
		submitter:    cfg.Submitter,
		logger:       logging.OrNop(cfg.Logger),
		minBlobBytes: minBlobBytes,
		onOutcome:    onOutcome,
	}, nil
}

func (s *segmenterImpl) SpeechStart() {
	s.apply(inputSpeechStart)
}

func (s *segmenterImpl) SilenceTimeout() {
	s.apply(inputSilenceTimeout)
}

func (s *segmenterImpl) StopListening() {
	s.apply(inputStopListening)
}

// RecorderEvent accepts chunks only for the utterance being recorded or
// finalized; anything else is a straggler from a discarded one.
func (s *segmenterImpl) RecorderEvent(ev recorder.Event) {
	if s.state == StateIdle || ev.UtteranceID != s.currentID {
		s.logger.Debugf("dropping recorder event for utterance %d", ev.UtteranceID)
		return
	}

	switch ev.Kind {
	case recorder.EventDataAvailable:
		if len(ev.Data) > 0 {
			s.chunks = append(s.chunks, ev.Data)
		}
	case recorder.EventStopped:
		s.apply(inputStopCompleted)
	}
}

func (s *segmenterImpl) State() State {
	return s.state
}

func (s *segmenterImpl) Recording() bool {
	return s.state == StateRecording
}

// CurrentID is the id of the latest utterance, 0 before the first.
func (s *segmenterImpl) CurrentID() int {
	return s.currentID
}

func (s *segmenterImpl) apply(in input) {
	next, act := transition(s.state, in)
	s.state = next

	switch act {
	case actionStartRecording:
		s.start()
	case actionStopRecording:
		if err := s.recorder.Stop(); err != nil {
			s.logger.Errorf("error stopping utterance %d: %v", s.currentID, err)
			// no stop event will follow
			s.state = StateIdle
			s.reset()
			s.onOutcome(s.currentID, OutcomeAborted)
		}
	case actionFinalize:
		s.finalize()
	case actionDiscard:
		s.logger.Debugf("discarding partial utterance %d", s.currentID)
		if err := s.recorder.Stop(); err != nil {
			s.logger.Debugf("stop on discard: %v", err)
		}
		s.reset()
		s.onOutcome(s.currentID, OutcomeAborted)
	case actionDefer:
		s.restartPending = true
	}
}

func (s *segmenterImpl) start() {
	s.nextID++
	s.currentID = s.nextID
	s.chunks = nil

	if err := s.recorder.Start(s.currentID); err != nil {
		s.logger.Errorf("error starting utterance %d: %v", s.currentID, err)
		s.state = StateIdle
		s.onOutcome(s.currentID, OutcomeAborted)
		return
	}

	s.logger.Debugf("recording utterance %d", s.currentID)
}

func (s *segmenterImpl) finalize() {
	id := s.currentID
	chunks := s.chunks
	restart := s.restartPending
	s.reset()

	blob, err := s.recorder.Assemble(id, chunks)
	switch {
	case err != nil:
		s.logger.Errorf("error assembling utterance %d: %v", id, err)
		s.onOutcome(id, OutcomeAborted)
	case blob.Size() < s.minBlobBytes:
		s.logger.Debugf("discarding utterance %d: %d bytes", id, blob.Size())
		s.onOutcome(id, OutcomeDiscarded)
	default:
		s.logger.Infof("utterance %d finalized: %d bytes %s", id, blob.Size(), blob.MimeType)
		s.submitter.Submit(blob)
		s.onOutcome(id, OutcomeSubmitted)
	}

	if restart {
		s.apply(inputSpeechStart)
	}
}

func (s *segmenterImpl) reset() {
	s.chunks = nil
	s.restartPending = false
}
