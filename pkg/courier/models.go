package courier

import (
	"time"
)

// ServiceType represents the shipping service tier.
type ServiceType string

const (
	ServiceStandard ServiceType = "standard"
	ServiceExpress  ServiceType = "express"
	ServiceSameDay  ServiceType = "same_day"
)

// Address represents a shipping address.
type Address struct {
	Name         string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
	CountryCode  string // ISO 3166-1 alpha-2, e.g., "SA", "AE"
	Email        string
}

// Package represents the parcel to be shipped.
type Package struct {
	Weight        float64
	WeightUnit    string // "kg", "lb"
	Length        float64
	Width         float64
	Height        float64
	DimensionUnit string // "cm", "in"
	Description   string
	DeclaredValue float64
	Currency      string
}

// WaybillRequest is the request for creating a waybill with a courier.
// Reference is the merchant-supplied idempotency key for the shipment.
type WaybillRequest struct {
	Shipper        Address
	Receiver       Address
	Package        Package
	Reference      string
	ServiceType    ServiceType
	CashOnDelivery bool
	CODAmount      float64
	Notes          string
	Metadata       map[string]any
}

// WaybillResponse is the response from creating a waybill.
// WaybillNumber is the courier-assigned primary external identifier.
type WaybillResponse struct {
	WaybillNumber    string
	CourierReference string
	LabelURL         string
	Metadata         map[string]any
}

// Label represents a waybill label. Content holds either a hosted URL
// (IsURL true) or the raw label file contents, usually base64 PDF.
type Label struct {
	Content     string
	Format      string // "pdf"
	ContentType string // "application/pdf"
	IsURL       bool
}

// TrackingEvent represents a single checkpoint in a shipment's history.
type TrackingEvent struct {
	Status        Status
	CourierStatus string
	Description   string
	Timestamp     time.Time
	Location      string
	Metadata      map[string]any
}

// TrackingResponse represents the tracking history for a waybill.
// Couriers return events newest-first, so the latest event is the first
// element and CurrentStatus mirrors its unified status.
type TrackingResponse struct {
	WaybillNumber string
	CurrentStatus Status
	Events        []TrackingEvent
	Metadata      map[string]any
}

// LatestEvent returns the most recent tracking event, or nil if there are none.
func (t *TrackingResponse) LatestEvent() *TrackingEvent {
	if len(t.Events) == 0 {
		return nil
	}
	return &t.Events[0]
}

// CancellationResult is the outcome of a cancellation attempt.
type CancellationResult struct {
	Success          bool
	Message          string
	CourierReference string
	Metadata         map[string]any
}
