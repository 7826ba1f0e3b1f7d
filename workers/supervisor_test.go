package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingWorker fails or panics a configured number of times, then blocks
// until cancelled.
type countingWorker struct {
	runs      atomic.Int32
	failTimes int32
	panics    bool
}

func (w *countingWorker) Run(ctx context.Context) error {
	run := w.runs.Add(1)
	if run <= w.failTimes {
		if w.panics {
			panic("worker blew up")
		}
		return fmt.Errorf("transient failure %d", run)
	}
	<-ctx.Done()
	return nil
}

func TestSupervisor_Restarts_A_Crashing_Worker(t *testing.T) {
	req := require.New(t)
	worker := &countingWorker{failTimes: 2}
	supervisor := NewSupervisor(slog.Default(), time.Millisecond)
	supervisor.Add(worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	// Two crashes, then the third run holds until shutdown
	req.Eventually(func() bool { return worker.runs.Load() == 3 },
		time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("supervisor did not stop")
	}
	req.Equal(int32(3), worker.runs.Load())
}

func TestSupervisor_Recovers_A_Panicking_Worker(t *testing.T) {
	req := require.New(t)
	worker := &countingWorker{failTimes: 1, panics: true}
	supervisor := NewSupervisor(slog.Default(), time.Millisecond)
	supervisor.Add(worker)

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	req.Eventually(func() bool { return worker.runs.Load() == 2 },
		time.Second, time.Millisecond)

	supervisor.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("supervisor did not stop")
	}
}

func TestSupervisor_Lets_A_Finished_Worker_Rest(t *testing.T) {
	req := require.New(t)
	finished := &finishingWorker{}
	supervisor := NewSupervisor(slog.Default(), time.Millisecond)
	supervisor.Add(finished)

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	// A nil return means done, not crashed: no restart happens
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("supervisor did not return after its only worker finished")
	}
	req.Equal(int32(1), finished.runs.Load())
}

type finishingWorker struct {
	runs atomic.Int32
}

func (w *finishingWorker) Run(context.Context) error {
	w.runs.Add(1)
	return nil
}
