package lifecycle

import (
	"context"
	"sync"
)

// LoopRunner provides a reusable start/stop lifecycle for a background loop
// and the short-lived tasks it spawns. Stop cancels the loop context and
// waits for the loop and every task to return.
type LoopRunner struct {
	mu      sync.RWMutex
	wg      sync.WaitGroup
	running bool
	cancel  context.CancelFunc
	ctx     context.Context
}

func NewLoopRunner() *LoopRunner {
	return &LoopRunner{}
}

func (r *LoopRunner) Start(parent context.Context, loop func(ctx context.Context)) bool {
	if loop == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	r.ctx = ctx
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop(ctx)
	}()
	return true
}

// Go runs task on its own goroutine under the loop context. It returns false
// when the runner is stopped.
func (r *LoopRunner) Go(task func(ctx context.Context)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return false
	}
	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		task(ctx)
	}()
	return true
}

func (r *LoopRunner) Stop() bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	cancel := r.cancel
	r.cancel = nil
	r.ctx = nil
	r.running = false
	cancel()
	r.mu.Unlock()

	r.wg.Wait()
	return true
}

func (r *LoopRunner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}
