package playback

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"n8n-voice-interface/logging"
	"n8n-voice-interface/metrics"
)

// frameSamples is how much audio is written between stop checks.
const frameSamples = 1024

type track struct {
	clip       *Clip
	stop       chan struct{}
	once       sync.Once
	onComplete func()
}

func (t *track) complete() {
	t.once.Do(func() {
		if t.onComplete != nil {
			t.onComplete()
		}
	})
}

type controllerImpl struct {
	baseURL *url.URL
	loader  Loader
	decode  DecodeFunc
	output  Output
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	// playMu serializes Play and Replay; mu guards the fields below.
	playMu   sync.Mutex
	mu       sync.Mutex
	current  *track
	last     *Clip
	position int
	// generation is bumped by Interrupt so a load in progress never starts.
	generation uint64
}

type Config struct {
	// BaseURL resolves relative audio URLs.
	BaseURL string
	Loader  Loader
	Output  Output
	// Decode defaults to Decode.
	Decode  DecodeFunc
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is nil")
	}

	if cfg.Output == nil {
		return nil, fmt.Errorf("output is nil")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}

	decode := cfg.Decode
	if decode == nil {
		decode = Decode
	}

	return &controllerImpl{
		baseURL: base,
		loader:  cfg.Loader,
		decode:  decode,
		output:  cfg.Output,
		logger:  logging.OrNop(cfg.Logger),
		metrics: cfg.Metrics,
	}, nil
}

// ResolveURL makes ref absolute against base. Absolute http(s) URLs are
// returned unchanged.
func ResolveURL(base *url.URL, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse audio url %q: %w", ref, err)
	}

	if base == nil {
		return u.String(), nil
	}

	return base.ResolveReference(u).String(), nil
}

func (c *controllerImpl) Play(ctx context.Context, audioURL string, onComplete func()) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.stopCurrent()
	gen := c.currentGeneration()

	clip, err := c.fetch(ctx, audioURL)
	if err != nil {
		c.metrics.RecordPlayback("failed")
		if onComplete != nil {
			onComplete()
		}
		return err
	}

	return c.start(clip, onComplete, gen)
}

func (c *controllerImpl) Replay(ctx context.Context, onComplete func()) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.stopCurrent()

	c.mu.Lock()
	clip := c.last
	gen := c.generation
	c.mu.Unlock()

	if clip == nil {
		if onComplete != nil {
			onComplete()
		}
		return ErrNothingToReplay
	}

	if err := ctx.Err(); err != nil {
		if onComplete != nil {
			onComplete()
		}
		return err
	}

	return c.start(clip, onComplete, gen)
}

func (c *controllerImpl) Interrupt() bool {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()

	stopped := c.stopCurrent()
	if stopped {
		c.logger.Debugf("playback interrupted")
		c.metrics.RecordInterruption()
	}
	return stopped
}

func (c *controllerImpl) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *controllerImpl) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *controllerImpl) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *controllerImpl) fetch(ctx context.Context, audioURL string) (*Clip, error) {
	resolved, err := ResolveURL(c.baseURL, audioURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}

	data, contentType, err := c.loader.Load(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrPlaybackFailed, resolved, err)
	}

	clip, err := c.decode(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPlaybackFailed, resolved, err)
	}

	c.logger.Debugf("playing %s: %d frames at %d Hz", resolved, clip.Frames(), clip.SampleRate)

	return clip, nil
}

func (c *controllerImpl) start(clip *Clip, onComplete func(), gen uint64) error {
	sink, err := c.output.Open(clip.SampleRate, clip.Channels)
	if err != nil {
		c.metrics.RecordPlayback("failed")
		if onComplete != nil {
			onComplete()
		}
		return fmt.Errorf("%w: open output: %v", ErrPlaybackFailed, err)
	}

	t := &track{
		clip:       clip,
		stop:       make(chan struct{}),
		onComplete: onComplete,
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()

		c.logger.Debugf("playback interrupted before it started")
		if err := sink.Close(); err != nil {
			c.logger.Debugf("close output: %v", err)
		}
		c.metrics.RecordPlayback("interrupted")
		if onComplete != nil {
			onComplete()
		}
		return nil
	}
	c.current = t
	c.last = clip
	c.position = 0
	c.mu.Unlock()

	go c.run(t, sink)

	return nil
}

// run writes the clip until it ends or t is stopped. A stopped track no
// longer owns position.
func (c *controllerImpl) run(t *track, sink Sink) {
	defer func() {
		if err := sink.Close(); err != nil {
			c.logger.Debugf("close output: %v", err)
		}
	}()

	samples := t.clip.Samples
	step := frameSamples * t.clip.Channels

	for pos := 0; pos < len(samples); {
		select {
		case <-t.stop:
			return
		default:
		}

		end := pos + step
		if end > len(samples) {
			end = len(samples)
		}

		if err := sink.Write(samples[pos:end]); err != nil {
			c.logger.Errorf("error writing audio: %v", err)
			break
		}
		pos = end

		c.mu.Lock()
		if c.current != t {
			c.mu.Unlock()
			return
		}
		c.position = pos / t.clip.Channels
		c.mu.Unlock()
	}

	c.mu.Lock()
	finished := c.current == t
	if finished {
		c.current = nil
		c.position = 0
	}
	c.mu.Unlock()

	if finished {
		c.metrics.RecordPlayback("completed")
		t.complete()
	}
}

// stopCurrent pauses and rewinds without waiting for the writer to
// drain its last frame.
func (c *controllerImpl) stopCurrent() bool {
	c.mu.Lock()
	t := c.current
	c.current = nil
	c.position = 0
	c.mu.Unlock()

	if t == nil {
		return false
	}

	close(t.stop)
	c.metrics.RecordPlayback("interrupted")
	t.complete()

	return true
}
