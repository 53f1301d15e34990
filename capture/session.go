package capture

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"n8n-voice-interface/analyser"
	"n8n-voice-interface/logging"
)

type sessionImpl struct {
	device    Device
	logger    *zap.SugaredLogger
	fftSize   int
	smoothing float64

	mu       sync.RWMutex
	analyser *analyser.Analyser
	stop     chan struct{}
	done     chan struct{}

	handlersMu sync.RWMutex
	handlers   []FrameHandler
}

type Config struct {
	Device    Device
	Logger    *zap.SugaredLogger
	FFTSize   int
	Smoothing float64
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Device == nil {
		return nil, fmt.Errorf("device is nil")
	}

	fftSize := cfg.FFTSize
	if fftSize == 0 {
		fftSize = analyser.DefaultFFTSize
	}

	smoothing := cfg.Smoothing
	if smoothing == 0 {
		smoothing = analyser.DefaultSmoothing
	}

	// validate analyser settings up front rather than on every Acquire
	if _, err := analyser.New(fftSize, smoothing); err != nil {
		return nil, err
	}

	return &sessionImpl{
		device:    cfg.Device,
		logger:    logging.OrNop(cfg.Logger),
		fftSize:   fftSize,
		smoothing: smoothing,
	}, nil
}

func (s *sessionImpl) Acquire(ctx context.Context, constraints Constraints) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.analyser != nil {
		return ErrAlreadyAcquired
	}

	constraints = withDefaults(constraints)

	stream, err := s.device.OpenInput(constraints)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}

	an, err := analyser.New(s.fftSize, s.smoothing)
	if err != nil {
		_ = stream.Stop()
		_ = stream.Close()
		return err
	}

	s.analyser = an
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.readLoop(stream, an, s.stop, s.done)

	s.logger.Infof("microphone acquired: %d Hz, %d channel(s)", constraints.SampleRate, constraints.Channels)

	return nil
}

func (s *sessionImpl) Release() {
	s.mu.Lock()
	if s.analyser == nil {
		s.mu.Unlock()
		return
	}

	stop, done := s.stop, s.done
	s.analyser = nil
	s.stop = nil
	s.done = nil
	s.mu.Unlock()

	close(stop)
	<-done

	s.logger.Infof("microphone released")
}

func (s *sessionImpl) SampleLevel() (float64, error) {
	s.mu.RLock()
	an := s.analyser
	s.mu.RUnlock()

	if an == nil {
		return 0, ErrNotAcquired
	}

	return an.AverageLevel(), nil
}

func (s *sessionImpl) OnFrame(handler FrameHandler) {
	if handler == nil {
		return
	}

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *sessionImpl) Acquired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyser != nil
}

// readLoop owns the stream until stop is closed. Release waits on done,
// so it returns after at most one in-flight Read.
func (s *sessionImpl) readLoop(stream Stream, an *analyser.Analyser, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := stream.Stop(); err != nil {
			s.logger.Debugf("stop input stream: %v", err)
		}
		if err := stream.Close(); err != nil {
			s.logger.Debugf("close input stream: %v", err)
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		samples, err := stream.Read()
		if err != nil {
			select {
			case <-stop:
			default:
				s.logger.Warnf("microphone read failed: %v", err)
				s.detach(an)
			}
			return
		}

		an.Write(samples)

		s.handlersMu.RLock()
		handlers := s.handlers
		s.handlersMu.RUnlock()

		for _, h := range handlers {
			h(samples)
		}
	}
}

// detach drops a session whose stream died so SampleLevel reports
// ErrNotAcquired instead of a frozen spectrum.
func (s *sessionImpl) detach(an *analyser.Analyser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.analyser != an {
		return
	}

	s.analyser = nil
	s.stop = nil
	s.done = nil
}

func withDefaults(c Constraints) Constraints {
	d := DefaultConstraints()
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = d.FramesPerBuffer
	}
	return c
}
