// Package shipments holds the shipment lifecycle: creation through courier
// adapters, tracking reconciliation, label retrieval, and cancellation.
package shipments

import (
	"time"

	"github.com/shipbridge/courier-gateway/pkg/courier"
)

// Shipment is the persisted shipment record. Reference is the
// merchant-supplied idempotency key; WaybillNumber is the courier-assigned
// external identifier once the waybill exists.
type Shipment struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference        string         `gorm:"size:100;not null;uniqueIndex" json:"reference"`
	CourierCode      string         `gorm:"size:32;not null;index" json:"courier_code"`
	WaybillNumber    string         `gorm:"size:100;index" json:"waybill_number"`
	CourierReference string         `gorm:"size:100" json:"courier_reference"`
	Status           courier.Status `gorm:"size:32;not null;default:pending;index" json:"status"`
	CourierStatus    string         `gorm:"size:64" json:"courier_status,omitempty"`
	LabelURL         string         `gorm:"size:512" json:"label_url,omitempty"`
	LastError        string         `gorm:"size:512" json:"last_error,omitempty"`
	CashOnDelivery   bool           `json:"cash_on_delivery"`
	CODAmount        float64        `json:"cod_amount"`
	LastTrackedAt    *time.Time     `json:"last_tracked_at,omitempty"`
	Metadata         map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Events []ShipmentEvent `gorm:"foreignKey:ShipmentID" json:"events,omitempty"`
}

// IsActive reports whether the shipment still expects tracking updates.
func (s *Shipment) IsActive() bool {
	return s.WaybillNumber != "" && !s.Status.IsTerminal()
}

// ShipmentEvent is one reconciled tracking checkpoint. The composite unique
// index makes reconciliation idempotent: replaying the same courier history
// can never duplicate an event.
type ShipmentEvent struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ShipmentID    uint           `gorm:"not null;uniqueIndex:idx_shipment_event_dedup" json:"shipment_id"`
	Status        courier.Status `gorm:"size:32;not null" json:"status"`
	CourierStatus string         `gorm:"size:64;not null;uniqueIndex:idx_shipment_event_dedup" json:"courier_status"`
	Description   string         `gorm:"size:512" json:"description"`
	Location      string         `gorm:"size:128" json:"location,omitempty"`
	Metadata      map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	OccurredAt    time.Time      `gorm:"not null;uniqueIndex:idx_shipment_event_dedup" json:"occurred_at"`
	CreatedAt     time.Time      `json:"created_at"`
}
