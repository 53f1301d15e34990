package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zenwerk/go-wave"
)

// Blob is one assembled utterance.
type Blob struct {
	UtteranceID int
	Data        []byte
	MimeType    string
}

func (b Blob) Size() int {
	return len(b.Data)
}

// Filename is the multipart filename for the upload; its extension
// follows the MIME type.
func (b Blob) Filename() string {
	return fmt.Sprintf("recording-entry-%d.%s", b.UtteranceID, Extension(b.MimeType))
}

type bufferCloser struct {
	*bytes.Buffer
}

func (bufferCloser) Close() error { return nil }

// encodeWave wraps little-endian PCM chunks in a WAV container.
func encodeWave(chunks [][]byte, sampleRate, channels int) ([]byte, error) {
	out := bufferCloser{Buffer: &bytes.Buffer{}}

	param := wave.WriterParam{
		Out:           out,
		Channel:       channels,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		return nil, fmt.Errorf("create wave writer: %w", err)
	}

	for _, chunk := range chunks {
		samples := make([]int16, len(chunk)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		}

		if _, err := waveWriter.WriteSample16(samples); err != nil {
			return nil, fmt.Errorf("write samples: %w", err)
		}
	}

	if err := waveWriter.Close(); err != nil {
		return nil, fmt.Errorf("close wave writer: %w", err)
	}

	return out.Bytes(), nil
}
