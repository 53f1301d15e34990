// Package vad classifies capture levels as speech or silence and reports
// the speech-start and silence-timeout edges that drive segmentation.
package vad

import (
	"time"
)

const (
	DefaultThreshold       = 15.0
	DefaultCheckInterval   = 100 * time.Millisecond
	DefaultSilenceDuration = 1500 * time.Millisecond
)

// Config is fixed for the lifetime of a detector. The values are not
// adapted to ambient noise.
type Config struct {
	Threshold       float64
	CheckInterval   time.Duration
	SilenceDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		CheckInterval:   DefaultCheckInterval,
		SilenceDuration: DefaultSilenceDuration,
	}
}

// Sample is one classified tick.
type Sample struct {
	Level          float64
	AboveThreshold bool
	Timestamp      time.Time
}

type Edge int

const (
	EdgeNone Edge = iota
	EdgeSpeechStart
	EdgeSilenceTimeout
)

func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "none"
	case EdgeSpeechStart:
		return "speech-start"
	case EdgeSilenceTimeout:
		return "silence-timeout"
	default:
		return "unknown"
	}
}

// Detector is not safe for concurrent use; the listener loop owns it.
type Detector struct {
	cfg Config

	speechDetected bool
	wasAbove       bool
	silenceStart   *time.Time
}

// New builds a detector, filling zero fields from DefaultConfig.
func New(cfg Config) *Detector {
	d := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = d.SilenceDuration
	}

	return &Detector{cfg: cfg}
}

func (d *Detector) Config() Config {
	return d.cfg
}

// Observe classifies one tick. recording tells the detector whether an
// utterance is currently being captured; silence is only timed then.
//
// At most one edge is returned per tick. EdgeSpeechStart fires on the
// first loud sample after a quiet one, so a contiguous loud run yields
// exactly one start.
func (d *Detector) Observe(now time.Time, level float64, recording bool) (Sample, Edge) {
	sample := Sample{
		Level:          level,
		AboveThreshold: level > d.cfg.Threshold,
		Timestamp:      now,
	}

	if sample.AboveThreshold {
		edge := EdgeNone
		if !d.wasAbove {
			edge = EdgeSpeechStart
		}

		d.wasAbove = true
		d.silenceStart = nil
		d.speechDetected = true

		return sample, edge
	}

	d.wasAbove = false

	if !recording || !d.speechDetected {
		return sample, EdgeNone
	}

	if d.silenceStart == nil {
		started := now
		d.silenceStart = &started
	}

	if now.Sub(*d.silenceStart) >= d.cfg.SilenceDuration {
		d.speechDetected = false
		d.silenceStart = nil
		return sample, EdgeSilenceTimeout
	}

	return sample, EdgeNone
}

// SpeechDetected reports whether speech was heard since the last timeout.
func (d *Detector) SpeechDetected() bool {
	return d.speechDetected
}

// SilenceWindow returns when the current silence run started, if one is
// being timed.
func (d *Detector) SilenceWindow() (time.Time, bool) {
	if d.silenceStart == nil {
		return time.Time{}, false
	}
	return *d.silenceStart, true
}

// Reset returns the detector to its initial state for a new session.
func (d *Detector) Reset() {
	d.speechDetected = false
	d.wasAbove = false
	d.silenceStart = nil
}
