package recorder

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{done: make(chan struct{}, 8)}
}

func (l *eventLog) sink(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()

	if ev.Kind == EventStopped {
		l.done <- struct{}{}
	}
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stop")
	}
}

func newRecorder(t *testing.T, log *eventLog) Interface {
	t.Helper()
	rec, err := New(&Config{
		Sink:   log.sink,
		Logger: zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	return rec
}

func TestSelectMimeType(t *testing.T) {
	only := func(types ...string) func(string) bool {
		return func(m string) bool {
			for _, candidate := range types {
				if candidate == m {
					return true
				}
			}
			return false
		}
	}

	assert.Equal(t, "audio/mp3", SelectMimeType(only("audio/wav", "audio/mp3")))
	assert.Equal(t, "audio/webm", SelectMimeType(only("audio/ogg", "audio/webm")))
	assert.Equal(t, "audio/wav", SelectMimeType(Supports))
	assert.Equal(t, "", SelectMimeType(only()))
	assert.Equal(t, "", SelectMimeType(nil))
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"audio/mp3":              "mp3",
		"audio/mpeg":             "mp3",
		"audio/webm;codecs=opus": "webm",
		"audio/ogg":              "ogg",
		"audio/wav":              "wav",
		"":                       "wav",
		"video/mp4":              "bin",
	}

	for mimeType, ext := range cases {
		assert.Equal(t, ext, Extension(mimeType), mimeType)
	}
}

func TestBlobFilename(t *testing.T) {
	b := Blob{UtteranceID: 7, MimeType: "audio/webm", Data: []byte{1, 2, 3}}
	assert.Equal(t, "recording-entry-7.webm", b.Filename())
	assert.Equal(t, 3, b.Size())
}

func TestNew_FallsBackToDefaultMime(t *testing.T) {
	rec, err := New(&Config{
		Sink:     func(Event) {},
		Supports: func(string) bool { return false },
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, rec.MimeType())

	_, err = New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestEncodeWave(t *testing.T) {
	pcm := make([]byte, 400)
	for i := 0; i < 200; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*10)))
	}

	data, err := encodeWave([][]byte{pcm[:200], pcm[200:]}, 16000, 1)
	require.NoError(t, err)

	require.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, pcm, data[44:])
}

func TestRecorder_ChunksPerTimeslice(t *testing.T) {
	log := newEventLog()
	rec := newRecorder(t, log)

	rec.Write(make([]int16, 1600))
	assert.Empty(t, log.snapshot(), "frames before Start are dropped")

	require.NoError(t, rec.Start(1))
	assert.Equal(t, StateRecording, rec.State())

	// 100ms at 16kHz mono is 1600 samples
	rec.Write(make([]int16, 1000))
	assert.Empty(t, log.snapshot())
	rec.Write(make([]int16, 600))

	events := log.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventDataAvailable, events[0].Kind)
	assert.Equal(t, 1, events[0].UtteranceID)
	assert.Len(t, events[0].Data, 3200)
}

func TestRecorder_StopEmitsFinalChunkThenStopped(t *testing.T) {
	log := newEventLog()
	rec := newRecorder(t, log)

	require.NoError(t, rec.Start(3))
	rec.Write(make([]int16, 100))
	require.NoError(t, rec.Stop())

	// late frames while stopping are not recorded
	rec.Write(make([]int16, 100))

	log.waitStopped(t)

	events := log.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, EventDataAvailable, events[0].Kind)
	assert.Len(t, events[0].Data, 200)
	assert.Equal(t, Event{Kind: EventStopped, UtteranceID: 3}, events[1])
	assert.Equal(t, StateInactive, rec.State())
}

func TestRecorder_InvalidTransitions(t *testing.T) {
	log := newEventLog()
	rec := newRecorder(t, log)

	assert.ErrorIs(t, rec.Stop(), ErrInvalidState)

	require.NoError(t, rec.Start(1))
	assert.ErrorIs(t, rec.Start(2), ErrInvalidState)

	require.NoError(t, rec.Stop())
	log.waitStopped(t)

	require.NoError(t, rec.Start(2))
}

func TestRecorder_Assemble(t *testing.T) {
	rec := newRecorder(t, newEventLog())

	blob, err := rec.Assemble(4, [][]byte{make([]byte, 2000)})
	require.NoError(t, err)
	assert.Equal(t, 4, blob.UtteranceID)
	assert.Equal(t, "audio/wav", blob.MimeType)
	assert.Equal(t, 2044, blob.Size())

	empty, err := rec.Assemble(5, nil)
	require.NoError(t, err)
	assert.Less(t, empty.Size(), 1000)
}
