package background

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newRunner() (*Runner, *syncBuffer) {
	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	return NewRunner(context.Background(), logger), buf
}

func TestRun_DoesNotBlockCaller(t *testing.T) {
	r, _ := newRunner()
	release := make(chan struct{})

	start := time.Now()
	err := r.Run("slow", "a", func(ctx context.Context) error {
		<-release
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, r.Running("a"))

	close(release)
	r.Wait()
	assert.False(t, r.Running("a"))
}

func TestRun_ErrorGoesToHandler(t *testing.T) {
	r, logs := newRunner()
	var got error

	require.NoError(t, r.Run("pipeline", "a", func(ctx context.Context) error {
		return errors.New("extract failed")
	}, func(err error) { got = err }))
	r.Wait()

	require.Error(t, got)
	assert.Equal(t, "extract failed", got.Error())
	assert.Contains(t, logs.String(), "background task failed")
	assert.NotContains(t, logs.String(), "unobserved")
}

func TestRun_PanicIsRecoveredAndLoggedAsUnobserved(t *testing.T) {
	r, logs := newRunner()
	var got error

	require.NoError(t, r.Run("pipeline", "a", func(ctx context.Context) error {
		var m map[string]int
		m["x"] = 1
		return nil
	}, func(err error) { got = err }))
	r.Wait()

	var pe *PanicError
	require.True(t, errors.As(got, &pe))
	assert.Contains(t, logs.String(), "unobserved failure in background task")
}

func TestRun_HandlerPanicIsSwallowed(t *testing.T) {
	r, logs := newRunner()

	require.NoError(t, r.Run("pipeline", "a", func(ctx context.Context) error {
		return errors.New("first")
	}, func(err error) { panic("second") }))

	assert.NotPanics(t, r.Wait)
	assert.Contains(t, logs.String(), "error handler panicked")
}

func TestRun_DuplicateIDRejected(t *testing.T) {
	r, _ := newRunner()
	release := make(chan struct{})
	defer func() {
		close(release)
		r.Wait()
	}()

	require.NoError(t, r.Run("t", "same", func(ctx context.Context) error {
		<-release
		return nil
	}, nil))

	err := r.Run("t", "same", func(ctx context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRun_SuccessSkipsHandler(t *testing.T) {
	r, _ := newRunner()
	called := false

	require.NoError(t, r.Run("t", "a", func(ctx context.Context) error { return nil }, func(error) { called = true }))
	r.Wait()

	assert.False(t, called)
}
