// Package jobs provides a small in-process job dispatcher behind the queue
// port, so the binary runs without external queueing infrastructure.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Dispatcher runs queued jobs on goroutines. Each job honors its delay,
// max-attempts, and backoff options. Jobs run on the dispatcher's root
// context, not the enqueuing request's, so they survive the request ending.
type Dispatcher struct {
	root   context.Context
	logger *otelzap.Logger

	mu       sync.RWMutex
	handlers map[string]func(ctx context.Context, job shipments.Job) error
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher bound to a root context. Cancelling the
// root context stops pending delays and retries.
func NewDispatcher(root context.Context, logger *otelzap.Logger) *Dispatcher {
	return &Dispatcher{
		root:     root,
		logger:   logger,
		handlers: make(map[string]func(ctx context.Context, job shipments.Job) error),
	}
}

// Handle registers the handler for a job name.
func (d *Dispatcher) Handle(name string, handler func(ctx context.Context, job shipments.Job) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handler
}

// Enqueue schedules a job for asynchronous execution.
func (d *Dispatcher) Enqueue(ctx context.Context, job shipments.Job, opts ...shipments.JobOption) error {
	options := shipments.JobOptions{MaxAttempts: 1, Backoff: 30 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	d.mu.RLock()
	handler, ok := d.handlers[job.Name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for job %q", job.Name)
	}

	d.wg.Add(1)
	go d.run(job, handler, options)
	return nil
}

func (d *Dispatcher) run(job shipments.Job, handler func(ctx context.Context, job shipments.Job) error, options shipments.JobOptions) {
	defer d.wg.Done()

	if options.Delay > 0 {
		if !d.sleep(options.Delay) {
			return
		}
	}

	var lastErr error
	for attempt := 1; attempt <= options.MaxAttempts; attempt++ {
		if attempt > 1 && !d.sleep(options.Backoff) {
			return
		}

		lastErr = handler(d.root, job)
		if lastErr == nil {
			return
		}

		d.logger.Warn("Job attempt failed",
			zap.String("job", job.Name),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	d.logger.Error("Job failed permanently",
		zap.String("job", job.Name),
		zap.Int("attempts", options.MaxAttempts),
		zap.Error(lastErr),
	)
}

func (d *Dispatcher) sleep(duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-d.root.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Wait blocks until all in-flight jobs finish or the context expires.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

var _ shipments.Queue = (*Dispatcher)(nil)
