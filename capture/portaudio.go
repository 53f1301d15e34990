package capture

import (
	"github.com/gordonklaus/portaudio"

	"n8n-voice-interface/audio_host"
)

type portaudioDevice struct{}

// NewPortaudioDevice opens the system default input device.
func NewPortaudioDevice() Device {
	return portaudioDevice{}
}

func (portaudioDevice) OpenInput(c Constraints) (Stream, error) {
	if err := audio_host.Acquire(); err != nil {
		return nil, err
	}

	in := make([]int16, c.FramesPerBuffer*c.Channels)

	stream, err := portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), c.FramesPerBuffer, in)
	if err != nil {
		_ = audio_host.Release()
		return nil, err
	}

	return &portaudioStream{stream: stream, in: in}, nil
}

type portaudioStream struct {
	stream *portaudio.Stream
	in     []int16
}

func (p *portaudioStream) Start() error {
	return p.stream.Start()
}

func (p *portaudioStream) Read() ([]int16, error) {
	err := p.stream.Read()
	// an overflow only means we dropped input; the buffer is still usable
	if err != nil && err != portaudio.InputOverflowed {
		return nil, err
	}

	samples := make([]int16, len(p.in))
	copy(samples, p.in)

	return samples, nil
}

func (p *portaudioStream) Stop() error {
	return p.stream.Stop()
}

func (p *portaudioStream) Close() error {
	err := p.stream.Close()
	if releaseErr := audio_host.Release(); err == nil {
		err = releaseErr
	}
	return err
}
