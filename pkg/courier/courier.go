// Package courier provides an abstraction layer for third-party courier APIs.
package courier

import (
	"context"
)

// Courier defines the interface that all courier integrations must implement.
type Courier interface {
	// Code returns the courier identifier (e.g., "aramex", "smsa").
	Code() string

	// Name returns the courier display name.
	Name() string

	// CreateWaybill creates a new shipment with the courier and returns
	// the courier-assigned waybill number.
	CreateWaybill(ctx context.Context, req *WaybillRequest) (*WaybillResponse, error)

	// GetLabel retrieves the printable waybill label.
	GetLabel(ctx context.Context, waybillNumber string) (*Label, error)

	// Track retrieves the tracking history for a waybill.
	Track(ctx context.Context, waybillNumber string) (*TrackingResponse, error)

	// MapStatus normalizes a courier-specific status code to a unified Status.
	// Unknown codes map to StatusException, never to an error.
	MapStatus(raw string) Status

	// IsAvailable reports whether the courier is currently callable.
	// It returns false while the circuit breaker for this courier is open.
	IsAvailable(ctx context.Context) bool
}

// Canceller is implemented by couriers that support shipment cancellation.
// Not all couriers allow cancellation, so this capability is optional and
// checked independently of the core Courier contract.
type Canceller interface {
	// Cancel cancels a shipment with the courier.
	Cancel(ctx context.Context, waybillNumber string) (*CancellationResult, error)

	// CanBeCancelled reports whether the shipment is still in a cancellable
	// state. Any error while checking is treated as "cannot cancel".
	CanBeCancelled(ctx context.Context, waybillNumber string) bool
}
