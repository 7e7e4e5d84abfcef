package shipments

import (
	"context"
	"errors"
	"time"
)

// ErrShipmentNotFound indicates no shipment matches the lookup.
var ErrShipmentNotFound = errors.New("shipment not found")

// Repository is the persistence port for shipments.
type Repository interface {
	// CreateShipment persists a new shipment record.
	CreateShipment(ctx context.Context, shipment *Shipment) error

	// FindByReference returns the shipment with the given merchant reference.
	FindByReference(ctx context.Context, reference string) (*Shipment, error)

	// FindByWaybillNumber returns the shipment with the given waybill number.
	FindByWaybillNumber(ctx context.Context, waybillNumber string) (*Shipment, error)

	// UpdateShipment persists changes to an existing shipment.
	UpdateShipment(ctx context.Context, shipment *Shipment) error

	// ActiveShipments returns up to limit shipments that still expect
	// tracking updates, oldest-tracked first.
	ActiveShipments(ctx context.Context, limit int) ([]Shipment, error)

	// SaveTrackingResult atomically appends the given events (skipping any
	// already recorded) and updates the shipment's status and LastTrackedAt.
	SaveTrackingResult(ctx context.Context, shipment *Shipment, events []ShipmentEvent) error
}

// Job is a unit of asynchronous work dispatched through the Queue.
type Job struct {
	Name    string
	Payload map[string]string
}

// JobOption configures how a job is dispatched.
type JobOption func(*JobOptions)

// JobOptions holds dispatch parameters for a queued job.
type JobOptions struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// WithDelay delays the first execution of the job.
func WithDelay(d time.Duration) JobOption {
	return func(o *JobOptions) { o.Delay = d }
}

// WithMaxAttempts sets how many times a failing job is retried.
func WithMaxAttempts(n int) JobOption {
	return func(o *JobOptions) { o.MaxAttempts = n }
}

// WithBackoff sets the delay between job retries.
func WithBackoff(d time.Duration) JobOption {
	return func(o *JobOptions) { o.Backoff = d }
}

// Queue is the asynchronous dispatch port. Handlers are registered by job
// name; Enqueue schedules a job for execution outside the caller's request.
type Queue interface {
	Enqueue(ctx context.Context, job Job, opts ...JobOption) error
	Handle(name string, handler func(ctx context.Context, job Job) error)
}
