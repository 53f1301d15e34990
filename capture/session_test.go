package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStream struct {
	frames  chan []int16
	closed  chan struct{}
	failed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan []int16, 16),
		closed: make(chan struct{}),
		failed: make(chan struct{}),
	}
}

func (f *fakeStream) Start() error { return nil }

func (f *fakeStream) Read() ([]int16, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-time.After(5 * time.Millisecond):
		// emulate a device delivering silence between writes
		return make([]int16, 8), nil
	case <-f.closed:
		return nil, errors.New("stream closed")
	case <-f.failed:
		return nil, errors.New("device unplugged")
	}
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeDevice struct {
	stream *fakeStream
	err    error
	opened Constraints
}

func (d *fakeDevice) OpenInput(c Constraints) (Stream, error) {
	d.opened = c
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func loud(n int) []int16 {
	out := make([]int16, n)
	seed := uint32(7)
	for i := range out {
		seed = seed*1664525 + 1013904223
		out[i] = int16(int32(seed>>16) - 32768)
	}
	return out
}

func newSession(t *testing.T, device Device) Interface {
	t.Helper()
	s, err := New(&Config{Device: device, Logger: zaptest.NewLogger(t).Sugar()})
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{Device: &fakeDevice{}, FFTSize: 300})
	assert.Error(t, err)
}

func TestAcquire_DeviceUnavailable(t *testing.T) {
	s := newSession(t, &fakeDevice{err: errors.New("permission denied")})

	err := s.Acquire(context.Background(), DefaultConstraints())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, s.Acquired())

	_, err = s.SampleLevel()
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestAcquire_AppliesDefaults(t *testing.T) {
	device := &fakeDevice{stream: newFakeStream()}
	s := newSession(t, device)

	require.NoError(t, s.Acquire(context.Background(), Constraints{}))
	defer s.Release()

	assert.Equal(t, DefaultConstraints(), device.opened)
}

func TestAcquire_Twice(t *testing.T) {
	s := newSession(t, &fakeDevice{stream: newFakeStream()})

	require.NoError(t, s.Acquire(context.Background(), DefaultConstraints()))
	defer s.Release()

	assert.ErrorIs(t, s.Acquire(context.Background(), DefaultConstraints()), ErrAlreadyAcquired)
}

func TestAcquire_CancelledContext(t *testing.T) {
	s := newSession(t, &fakeDevice{stream: newFakeStream()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Acquire(ctx, DefaultConstraints()), context.Canceled)
}

func TestSession_FramesReachHandlersAndAnalyser(t *testing.T) {
	stream := newFakeStream()
	s := newSession(t, &fakeDevice{stream: stream})

	got := make(chan int, 16)
	s.OnFrame(func(samples []int16) {
		if len(samples) == 256 {
			got <- len(samples)
		}
	})

	require.NoError(t, s.Acquire(context.Background(), DefaultConstraints()))
	defer s.Release()

	stream.frames <- loud(256)

	select {
	case n := <-got:
		assert.Equal(t, 256, n)
	case <-time.After(time.Second):
		t.Fatal("frame handler was not called")
	}

	level, err := s.SampleLevel()
	require.NoError(t, err)
	assert.Greater(t, level, 0.0)
}

func TestRelease_Idempotent(t *testing.T) {
	stream := newFakeStream()
	s := newSession(t, &fakeDevice{stream: stream})

	// release before acquire is safe
	s.Release()

	require.NoError(t, s.Acquire(context.Background(), DefaultConstraints()))
	s.Release()
	s.Release()

	assert.False(t, s.Acquired())
	assert.True(t, stream.isStopped())

	_, err := s.SampleLevel()
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestSession_ReadFailureDetaches(t *testing.T) {
	stream := newFakeStream()
	s := newSession(t, &fakeDevice{stream: stream})

	require.NoError(t, s.Acquire(context.Background(), DefaultConstraints()))

	for i := 0; i < 4; i++ {
		stream.frames <- loud(256)
	}
	require.Eventually(t, func() bool {
		level, err := s.SampleLevel()
		return err == nil && level > 0
	}, time.Second, time.Millisecond)

	close(stream.failed)

	require.Eventually(t, func() bool { return !s.Acquired() }, time.Second, time.Millisecond)

	_, err := s.SampleLevel()
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Eventually(t, stream.isStopped, time.Second, time.Millisecond)

	// nothing left to release
	s.Release()
}
