package playback

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"n8n-voice-interface/audio_host"
)

const outputFramesPerBuffer = 1024

type portaudioOutput struct{}

// NewPortaudioOutput plays through the default output device.
func NewPortaudioOutput() Output {
	return portaudioOutput{}
}

func (portaudioOutput) Open(sampleRate, channels int) (Sink, error) {
	if err := audio_host.Acquire(); err != nil {
		return nil, err
	}

	s := &portaudioSink{buf: make([]int16, outputFramesPerBuffer*channels)}

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), outputFramesPerBuffer, &s.buf)
	if err != nil {
		_ = audio_host.Release()
		return nil, fmt.Errorf("open output stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = audio_host.Release()
		return nil, fmt.Errorf("start output stream: %w", err)
	}

	s.stream = stream

	return s, nil
}

type portaudioSink struct {
	stream *portaudio.Stream
	buf    []int16
}

// Write copies samples through the stream buffer, zero padding the tail.
func (s *portaudioSink) Write(samples []int16) error {
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		samples = samples[n:]

		if err := s.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("write output stream: %w", err)
		}
	}

	return nil
}

func (s *portaudioSink) Close() error {
	defer func() { _ = audio_host.Release() }()

	if err := s.stream.Stop(); err != nil {
		_ = s.stream.Close()
		return fmt.Errorf("stop output stream: %w", err)
	}

	return s.stream.Close()
}
