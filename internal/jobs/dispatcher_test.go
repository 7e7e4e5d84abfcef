package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func TestDispatcher_RunsJob(t *testing.T) {
	d := NewDispatcher(context.Background(), otelzap.New(zap.NewNop()))

	var got atomic.Value
	d.Handle("test.echo", func(ctx context.Context, job shipments.Job) error {
		got.Store(job.Payload["value"])
		return nil
	})

	err := d.Enqueue(context.Background(), shipments.Job{
		Name:    "test.echo",
		Payload: map[string]string{"value": "hello"},
	})
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))

	assert.Equal(t, "hello", got.Load())
}

func TestDispatcher_UnknownJob(t *testing.T) {
	d := NewDispatcher(context.Background(), otelzap.New(zap.NewNop()))

	err := d.Enqueue(context.Background(), shipments.Job{Name: "nope"})

	assert.Error(t, err)
}

func TestDispatcher_RetriesUpToMaxAttempts(t *testing.T) {
	d := NewDispatcher(context.Background(), otelzap.New(zap.NewNop()))

	var calls atomic.Int32
	d.Handle("test.flaky", func(ctx context.Context, job shipments.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	err := d.Enqueue(context.Background(), shipments.Job{Name: "test.flaky"},
		shipments.WithMaxAttempts(3), shipments.WithBackoff(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_HonorsDelay(t *testing.T) {
	d := NewDispatcher(context.Background(), otelzap.New(zap.NewNop()))

	start := time.Now()
	var elapsed atomic.Value
	d.Handle("test.delayed", func(ctx context.Context, job shipments.Job) error {
		elapsed.Store(time.Since(start))
		return nil
	})

	err := d.Enqueue(context.Background(), shipments.Job{Name: "test.delayed"},
		shipments.WithDelay(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))

	assert.GreaterOrEqual(t, elapsed.Load().(time.Duration), 20*time.Millisecond)
}

func TestDispatcher_CancelledRootStopsPendingJobs(t *testing.T) {
	root, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(root, otelzap.New(zap.NewNop()))

	var calls atomic.Int32
	d.Handle("test.slow", func(ctx context.Context, job shipments.Job) error {
		calls.Add(1)
		return nil
	})

	err := d.Enqueue(context.Background(), shipments.Job{Name: "test.slow"},
		shipments.WithDelay(time.Hour))
	require.NoError(t, err)

	cancel()
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
}
