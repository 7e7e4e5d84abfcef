// Package postgres implements the shipments repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/shipbridge/courier-gateway/internal/shipments"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the shipments schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&shipments.Shipment{}, &shipments.ShipmentEvent{})
}

// Repository is the gorm-backed shipments repository.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository on an open database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateShipment persists a new shipment record.
func (r *Repository) CreateShipment(ctx context.Context, shipment *shipments.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

// FindByReference returns the shipment with the given merchant reference.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*shipments.Shipment, error) {
	return r.findOne(ctx, "reference = ?", reference)
}

// FindByWaybillNumber returns the shipment with the given waybill number.
func (r *Repository) FindByWaybillNumber(ctx context.Context, waybillNumber string) (*shipments.Shipment, error) {
	return r.findOne(ctx, "waybill_number = ?", waybillNumber)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*shipments.Shipment, error) {
	var shipment shipments.Shipment
	err := r.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("occurred_at DESC")
		}).
		Where(query, arg).
		First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shipments.ErrShipmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// UpdateShipment persists changes to an existing shipment.
func (r *Repository) UpdateShipment(ctx context.Context, shipment *shipments.Shipment) error {
	return r.db.WithContext(ctx).Omit("Events").Save(shipment).Error
}

// ActiveShipments returns up to limit non-terminal booked shipments,
// least-recently-tracked first.
func (r *Repository) ActiveShipments(ctx context.Context, limit int) ([]shipments.Shipment, error) {
	var result []shipments.Shipment
	err := r.db.WithContext(ctx).
		Where("waybill_number <> ''").
		Where("status NOT IN ?", []string{"delivered", "cancelled", "returned"}).
		Order("last_tracked_at ASC NULLS FIRST").
		Limit(limit).
		Find(&result).Error
	return result, err
}

// SaveTrackingResult writes the shipment's updated fields and upserts the
// event rows in a single transaction. Events conflicting on the natural key
// (shipment, courier status, occurred-at) update in place, so replaying the
// same tracking snapshot never duplicates rows.
func (r *Repository) SaveTrackingResult(ctx context.Context, shipment *shipments.Shipment, events []shipments.ShipmentEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Events").Save(shipment).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "shipment_id"},
				{Name: "courier_status"},
				{Name: "occurred_at"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"status", "description", "location", "metadata"}),
		}).Create(&events).Error
	})
}

var _ shipments.Repository = (*Repository)(nil)
