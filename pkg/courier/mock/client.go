// Package mock provides a mock courier implementation for testing.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shipbridge/courier-gateway/pkg/courier"
)

// Client is a mock courier for testing. Behavior can be overridden per-call
// through the function fields; the zero overrides produce plausible defaults.
type Client struct {
	code string
	name string

	mu       sync.Mutex
	waybills int

	Unavailable bool
	FailWith    error

	OnCreateWaybill func(ctx context.Context, req *courier.WaybillRequest) (*courier.WaybillResponse, error)
	OnTrack         func(ctx context.Context, waybillNumber string) (*courier.TrackingResponse, error)
	OnCancel        func(ctx context.Context, waybillNumber string) (*courier.CancellationResult, error)
}

// New creates a new mock courier with the given code.
func New(code string) *Client {
	return &Client{code: code, name: strings.ToUpper(code[:1]) + code[1:]}
}

// Code returns the courier code.
func (c *Client) Code() string {
	return c.code
}

// Name returns the courier display name.
func (c *Client) Name() string {
	return c.name
}

// IsAvailable reports the configured availability.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return !c.Unavailable
}

// CreateWaybillCount returns the number of waybills created so far.
func (c *Client) CreateWaybillCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waybills
}

// CreateWaybill creates a mock waybill.
func (c *Client) CreateWaybill(ctx context.Context, req *courier.WaybillRequest) (*courier.WaybillResponse, error) {
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	if c.OnCreateWaybill != nil {
		return c.OnCreateWaybill(ctx, req)
	}

	c.mu.Lock()
	c.waybills++
	n := c.waybills
	c.mu.Unlock()

	waybillNumber := fmt.Sprintf("%s-%09d", strings.ToUpper(c.code), n)
	return &courier.WaybillResponse{
		WaybillNumber:    waybillNumber,
		CourierReference: req.Reference,
		LabelURL:         fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.code, waybillNumber),
	}, nil
}

// GetLabel returns a mock label URL.
func (c *Client) GetLabel(ctx context.Context, waybillNumber string) (*courier.Label, error) {
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	return &courier.Label{
		Content:     fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.code, waybillNumber),
		Format:      "pdf",
		ContentType: "application/pdf",
		IsURL:       true,
	}, nil
}

// Track returns mock tracking history, newest first.
func (c *Client) Track(ctx context.Context, waybillNumber string) (*courier.TrackingResponse, error) {
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	if c.OnTrack != nil {
		return c.OnTrack(ctx, waybillNumber)
	}

	now := time.Now()
	return &courier.TrackingResponse{
		WaybillNumber: waybillNumber,
		CurrentStatus: courier.StatusInTransit,
		Events: []courier.TrackingEvent{
			{
				Status:        courier.StatusInTransit,
				CourierStatus: "IN_TRANSIT",
				Description:   "Shipment in transit",
				Timestamp:     now.Add(-2 * time.Hour),
			},
			{
				Status:        courier.StatusPickedUp,
				CourierStatus: "PICKED_UP",
				Description:   "Shipment picked up",
				Timestamp:     now.Add(-24 * time.Hour),
			},
		},
	}, nil
}

// MapStatus maps a raw status to a unified status. The mock recognizes the
// unified status names themselves.
func (c *Client) MapStatus(raw string) courier.Status {
	s := courier.Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range courier.Statuses {
		if s == known {
			return s
		}
	}
	return courier.StatusException
}

// Cancel cancels a mock shipment.
func (c *Client) Cancel(ctx context.Context, waybillNumber string) (*courier.CancellationResult, error) {
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	if c.OnCancel != nil {
		return c.OnCancel(ctx, waybillNumber)
	}
	return &courier.CancellationResult{
		Success:          true,
		Message:          "Shipment cancelled successfully",
		CourierReference: waybillNumber,
	}, nil
}

// CanBeCancelled reports whether the shipment is still cancellable.
func (c *Client) CanBeCancelled(ctx context.Context, waybillNumber string) bool {
	tracking, err := c.Track(ctx, waybillNumber)
	if err != nil {
		return false
	}
	switch tracking.CurrentStatus {
	case courier.StatusDelivered, courier.StatusOutForDelivery, courier.StatusCancelled, courier.StatusReturned:
		return false
	}
	return true
}

var (
	_ courier.Courier   = (*Client)(nil)
	_ courier.Canceller = (*Client)(nil)
)
