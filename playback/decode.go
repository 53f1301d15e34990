package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var errUnsupportedAudio = errors.New("unsupported audio format")

// Decode picks a decoder from the content and its declared type. The
// backend serves mp3; wav is accepted too.
func Decode(data []byte, contentType string) (*Clip, error) {
	switch {
	case isWave(data):
		return decodeWave(data)
	case isMP3(data, contentType):
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedAudio, contentType)
	}
}

func isWave(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpeg") || strings.Contains(ct, "mp3") {
		return true
	}

	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}

	// frame sync
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeWave(data []byte) (*Clip, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav pcm: %w", err)
	}

	return clipFromBuffer(buf, int(decoder.BitDepth))
}

func clipFromBuffer(buf *audio.IntBuffer, bitDepth int) (*Clip, error) {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, errors.New("wav has no format")
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = toInt16(v, bitDepth)
	}

	return &Clip{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}

func toInt16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

// decodeMP3 always yields 16-bit stereo.
func decodeMP3(data []byte) (*Clip, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("read mp3: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("mp3 has no audio frames")
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}

	return &Clip{
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		Samples:    samples,
	}, nil
}
