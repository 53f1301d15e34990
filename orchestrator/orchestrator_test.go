package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"n8n-voice-interface/clients/voice_api"
	"n8n-voice-interface/conversation"
	"n8n-voice-interface/recorder"
)

type fakePlayer struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakePlayer) Play(ctx context.Context, audioURL string, onComplete func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, audioURL)
	if onComplete != nil {
		onComplete()
	}
	return f.err
}

type observed struct {
	conversation.Nop

	mu          sync.Mutex
	transcripts map[int]string
	replies     map[int][2]string
	errors      map[int][]string
	inFlight    []int
}

func newObserved() *observed {
	return &observed{
		transcripts: map[int]string{},
		replies:     map[int][2]string{},
		errors:      map[int][]string{},
	}
}

func (o *observed) OnTranscriptionReady(id int, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transcripts[id] = text
}

func (o *observed) OnReplyReady(id int, text, audioURL string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies[id] = [2]string{text, audioURL}
}

func (o *observed) OnUtteranceError(id int, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors[id] = append(o.errors[id], message)
}

func (o *observed) OnRequestsInFlight(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = append(o.inFlight, n)
}

type backend struct {
	transcribe http.HandlerFunc
	textMsg    http.HandlerFunc
	last       http.HandlerFunc

	speakStatus int
	lastCalls   atomic.Int32
	speakCalls  atomic.Int32
	transcribes atomic.Int32
	spokenText  atomic.Value
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(voice_api.TranscribePath, func(w http.ResponseWriter, r *http.Request) {
		b.transcribes.Add(1)
		b.transcribe(w, r)
	})
	mux.HandleFunc(voice_api.TextMessagePath, func(w http.ResponseWriter, r *http.Request) {
		b.textMsg(w, r)
	})
	mux.HandleFunc(voice_api.LastResponsePath, func(w http.ResponseWriter, r *http.Request) {
		b.lastCalls.Add(1)
		if b.last == nil {
			writeJSON(w, http.StatusOK, map[string]string{})
			return
		}
		b.last(w, r)
	})
	mux.HandleFunc(voice_api.SpeakPath, func(w http.ResponseWriter, r *http.Request) {
		b.speakCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.spokenText.Store(body["text"])

		if b.speakStatus != 0 {
			writeJSON(w, b.speakStatus, map[string]string{"detail": "tts down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"text": body["text"], "audio_url": "/api/audio/spoken.mp3"})
	})
	return mux
}

type harness struct {
	orch     Interface
	backend  *backend
	player   *fakePlayer
	observer *observed
}

func newHarness(t *testing.T, b *backend) *harness {
	t.Helper()

	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	client, err := voice_api.NewClient(&voice_api.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	h := &harness{backend: b, player: &fakePlayer{}, observer: newObserved()}

	h.orch, err = New(&Config{
		Client:   client,
		Player:   h.player,
		Observer: h.observer,
		Logger:   zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)

	return h
}

func blob(id int) recorder.Blob {
	return recorder.Blob{UtteranceID: id, Data: make([]byte, 2048), MimeType: "audio/wav"}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestSubmit_NoWebhookConfigured(t *testing.T) {
	h := newHarness(t, &backend{})

	err := h.orch.Submit(context.Background(), blob(1), "")
	assert.ErrorIs(t, err, ErrNoWebhookConfigured)

	err = h.orch.SubmitText(context.Background(), 2, "hi", "   ")
	assert.ErrorIs(t, err, ErrNoWebhookConfigured)

	h.orch.Wait()
	assert.Equal(t, 0, h.orch.InFlight())
	assert.Empty(t, h.observer.inFlight, "count never changed")
	assert.Equal(t, int32(0), h.backend.transcribes.Load())
}

func TestSubmit_EmbeddedReplySkipsLookup(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":     true,
				"text":        "turn on the lights",
				"n8nResponse": map[string]string{"text": "Lights are on"},
			})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, "turn on the lights", h.observer.transcripts[1])
	assert.Equal(t, [2]string{"Lights are on", "/api/audio/spoken.mp3"}, h.observer.replies[1])
	assert.Equal(t, int32(0), b.lastCalls.Load())
	assert.Equal(t, "Lights are on", b.spokenText.Load())
	assert.Equal(t, []string{"/api/audio/spoken.mp3"}, h.player.urls)
	assert.Empty(t, h.observer.errors)
}

func TestSubmit_TranscriptionFailedWithDetail(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "bad audio"})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(3), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, []string{"bad audio"}, h.observer.errors[3])
	assert.Empty(t, h.observer.replies)
	assert.Equal(t, int32(0), b.lastCalls.Load())
	assert.Equal(t, int32(0), b.speakCalls.Load())
	assert.Equal(t, 0, h.orch.InFlight())
}

func TestTranscriptionError(t *testing.T) {
	err := error(transcriptionError(&voice_api.StatusError{StatusCode: 502}))
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Equal(t, "transcription request failed (status 502)", err.Error())

	var terr *TranscriptionError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &terr))

	assert.Equal(t, genericTranscriptionDetail, transcriptionError(errors.New("dial tcp: refused")).Detail)
}

func TestSubmit_EmptyLookupUsesDefaultReply(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "text": "hello"})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, int32(1), b.lastCalls.Load())
	assert.Equal(t, int32(1), b.speakCalls.Load())
	assert.Equal(t, DefaultReply, b.spokenText.Load())
	assert.Equal(t, [2]string{DefaultReply, "/api/audio/spoken.mp3"}, h.observer.replies[1])
}

func TestSubmit_LookupFailureUsesDefaultReply(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "text": "hello"})
		},
		last: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no response yet"})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, DefaultReply, h.observer.replies[1][0])
	assert.Empty(t, h.observer.errors)
}

func TestSubmit_LookupWithAudioSkipsSpeak(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "text": "weather?"})
		},
		last: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"text": "Sunny", "audio_url": "/api/audio/last.mp3"})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, [2]string{"Sunny", "/api/audio/last.mp3"}, h.observer.replies[1])
	assert.Equal(t, int32(0), b.speakCalls.Load())
	assert.Equal(t, []string{"/api/audio/last.mp3"}, h.player.urls)
}

func TestSubmit_SpeechSynthesisFailedKeepsText(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"text":        "hi",
				"n8nResponse": map[string]string{"text": "Hello!"},
			})
		},
		speakStatus: http.StatusServiceUnavailable,
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, [2]string{"Hello!", ""}, h.observer.replies[1])
	assert.Equal(t, []string{ErrSpeechSynthesisFailed.Error()}, h.observer.errors[1])
	assert.Empty(t, h.player.urls)
}

func TestSubmit_PlaybackFailureReported(t *testing.T) {
	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"text": "hi", "n8nResponse": map[string]string{"text": "yo"}})
		},
	}
	h := newHarness(t, b)
	h.player.err = errors.New("playback failed: no device")

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, []string{"playback failed: no device"}, h.observer.errors[1])
}

func TestSubmit_InFlightInvariant(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{}, 3)

	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			arrived <- struct{}{}
			<-release
			writeJSON(w, http.StatusOK, map[string]interface{}{"text": "x", "n8nResponse": map[string]string{"text": "y"}})
		},
	}
	h := newHarness(t, b)

	for id := 1; id <= 3; id++ {
		require.NoError(t, h.orch.Submit(context.Background(), blob(id), "https://n8n.local/hook"))
	}

	for i := 0; i < 3; i++ {
		<-arrived
	}
	assert.Equal(t, 3, h.orch.InFlight())

	close(release)
	h.orch.Wait()

	assert.Equal(t, 0, h.orch.InFlight())

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	require.Len(t, h.observer.inFlight, 6)
	for _, n := range h.observer.inFlight {
		assert.GreaterOrEqual(t, n, 0)
		assert.LessOrEqual(t, n, 3)
	}
	assert.Len(t, h.observer.replies, 3)
}

func TestSubmit_InFlightCountsRepeatedIDs(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{}, 2)

	b := &backend{
		transcribe: func(w http.ResponseWriter, r *http.Request) {
			arrived <- struct{}{}
			<-release
			writeJSON(w, http.StatusOK, map[string]interface{}{"text": "x", "n8nResponse": map[string]string{"text": "y"}})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))
	require.NoError(t, h.orch.Submit(context.Background(), blob(1), "https://n8n.local/hook"))

	<-arrived
	<-arrived
	assert.Equal(t, 2, h.orch.InFlight())

	release <- struct{}{}
	require.Eventually(t, func() bool { return h.orch.InFlight() == 1 }, time.Second, time.Millisecond)

	release <- struct{}{}
	h.orch.Wait()
	assert.Equal(t, 0, h.orch.InFlight())
}

func TestSubmitText(t *testing.T) {
	b := &backend{
		textMsg: func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"text":        body["text"],
				"n8nResponse": map[string]string{"text": "echo: " + body["text"]},
			})
		},
	}
	h := newHarness(t, b)

	require.NoError(t, h.orch.SubmitText(context.Background(), 9, "ping", "https://n8n.local/hook"))
	h.orch.Wait()

	assert.Equal(t, "ping", h.observer.transcripts[9])
	assert.Equal(t, "echo: ping", h.observer.replies[9][0])
}
