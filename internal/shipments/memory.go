package shipments

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository with the same natural-key
// dedup semantics as the postgres implementation. It backs tests and local
// runs without a database.
type MemoryRepository struct {
	mu        sync.Mutex
	nextID    uint
	shipments map[uint]*Shipment
	events    map[string]ShipmentEvent
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		shipments: make(map[uint]*Shipment),
		events:    make(map[string]ShipmentEvent),
	}
}

// CreateShipment persists a new shipment record.
func (r *MemoryRepository) CreateShipment(ctx context.Context, shipment *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.shipments {
		if s.Reference == shipment.Reference {
			return fmt.Errorf("shipment with reference %s already exists", shipment.Reference)
		}
	}

	r.nextID++
	shipment.ID = r.nextID
	copied := *shipment
	r.shipments[shipment.ID] = &copied
	return nil
}

// FindByReference returns the shipment with the given merchant reference.
func (r *MemoryRepository) FindByReference(ctx context.Context, reference string) (*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shipments {
		if s.Reference == reference {
			copied := *s
			return &copied, nil
		}
	}
	return nil, ErrShipmentNotFound
}

// FindByWaybillNumber returns the shipment with the given waybill number.
func (r *MemoryRepository) FindByWaybillNumber(ctx context.Context, waybillNumber string) (*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shipments {
		if s.WaybillNumber != "" && s.WaybillNumber == waybillNumber {
			copied := *s
			return &copied, nil
		}
	}
	return nil, ErrShipmentNotFound
}

// UpdateShipment persists changes to an existing shipment.
func (r *MemoryRepository) UpdateShipment(ctx context.Context, shipment *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shipments[shipment.ID]; !ok {
		return ErrShipmentNotFound
	}
	copied := *shipment
	r.shipments[shipment.ID] = &copied
	return nil
}

// ActiveShipments returns up to limit shipments that still expect updates.
func (r *MemoryRepository) ActiveShipments(ctx context.Context, limit int) ([]Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Shipment
	for _, s := range r.shipments {
		if s.IsActive() {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func eventKey(e ShipmentEvent) string {
	return fmt.Sprintf("%d|%s|%d", e.ShipmentID, e.CourierStatus, e.OccurredAt.UnixNano())
}

// SaveTrackingResult writes shipment fields and upserts events by natural key.
func (r *MemoryRepository) SaveTrackingResult(ctx context.Context, shipment *Shipment, events []ShipmentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *shipment
	r.shipments[shipment.ID] = &copied
	for _, e := range events {
		r.events[eventKey(e)] = e
	}
	return nil
}

// EventsFor returns the distinct events stored for a shipment, oldest first.
func (r *MemoryRepository) EventsFor(shipmentID uint) []ShipmentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []ShipmentEvent
	for _, e := range r.events {
		if e.ShipmentID == shipmentID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	return result
}

// EventCount returns how many distinct events are stored for a shipment.
func (r *MemoryRepository) EventCount(shipmentID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.ShipmentID == shipmentID {
			n++
		}
	}
	return n
}

var _ Repository = (*MemoryRepository)(nil)
