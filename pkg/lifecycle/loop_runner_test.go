package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLoopRunnerStartStopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewLoopRunner()
	started := make(chan struct{})
	if !r.Start(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}) {
		t.Fatalf("first Start should succeed")
	}
	<-started
	if r.Start(context.Background(), func(context.Context) {}) {
		t.Fatalf("second Start should be rejected")
	}
	if !r.Running() {
		t.Fatalf("runner should report running")
	}
	if !r.Stop() || r.Stop() {
		t.Fatalf("Stop should succeed exactly once")
	}
}

func TestLoopRunnerStopWaitsForTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewLoopRunner()
	r.Start(context.Background(), func(ctx context.Context) { <-ctx.Done() })

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		r.Go(func(ctx context.Context) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
	}
	r.Stop()
	if got := finished.Load(); got != 3 {
		t.Fatalf("Stop returned before tasks finished: %d/3", got)
	}
	if r.Go(func(context.Context) {}) {
		t.Fatalf("Go after Stop should be rejected")
	}
}
