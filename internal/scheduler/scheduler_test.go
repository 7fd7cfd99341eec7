package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs atomic.Int32
	done chan struct{}
}

func (r *countingRunner) Run(context.Context) error {
	if r.runs.Add(1) == 1 {
		close(r.done)
	}
	return nil
}

func TestSchedulerRunsJob(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(runner, 10*time.Millisecond, logger)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}

func TestSchedulerStop(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(runner, 10*time.Millisecond, logger)

	require.NoError(t, s.Start(context.Background()))
	<-runner.done
	s.Stop()

	// Drain any tick already in flight before sampling the count.
	time.Sleep(30 * time.Millisecond)
	after := runner.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runner.runs.Load(), "no runs after Stop")
}
