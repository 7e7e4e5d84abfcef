package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shipbridge/courier-gateway/internal/telemetry"
	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Job names dispatched through the queue.
const (
	JobCreateWaybill   = "shipments.create_waybill"
	JobRefreshTracking = "shipments.refresh_tracking"
)

// CacheConfig controls the tracking response cache. Terminal shipments are
// cached longer since no further updates are expected.
type CacheConfig struct {
	TerminalTTL time.Duration
	ActiveTTL   time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TerminalTTL <= 0 {
		c.TerminalTTL = time.Hour
	}
	if c.ActiveTTL <= 0 {
		c.ActiveTTL = 5 * time.Minute
	}
	return c
}

// CreateRequest is the caller-facing request for creating a shipment.
type CreateRequest struct {
	CourierCode    string
	Reference      string
	Shipper        courier.Address
	Receiver       courier.Address
	Package        courier.Package
	ServiceType    courier.ServiceType
	CashOnDelivery bool
	CODAmount      float64
	Notes          string
	Metadata       map[string]any
}

// Service orchestrates shipment operations across the courier adapters,
// the repository, the tracking cache, and the job queue.
type Service struct {
	registry *courier.Registry
	repo     Repository
	queue    Queue
	rdb      redis.UniversalClient
	cache    CacheConfig
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
}

// NewService creates a shipment service. metrics may be nil in tests.
func NewService(
	registry *courier.Registry,
	repo Repository,
	queue Queue,
	rdb redis.UniversalClient,
	cache CacheConfig,
	logger *otelzap.Logger,
	metrics *telemetry.Metrics,
) *Service {
	return &Service{
		registry: registry,
		repo:     repo,
		queue:    queue,
		rdb:      rdb,
		cache:    cache.withDefaults(),
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterJobs binds the service's asynchronous handlers to the queue.
func (s *Service) RegisterJobs() {
	s.queue.Handle(JobCreateWaybill, func(ctx context.Context, job Job) error {
		return s.CreateWaybill(ctx, job.Payload["reference"])
	})
	s.queue.Handle(JobRefreshTracking, func(ctx context.Context, job Job) error {
		_, err := s.Track(ctx, job.Payload["waybill_number"], true)
		return err
	})
}

// Create creates the shipment record and immediately books the waybill with
// the courier. The merchant reference is the idempotency key: repeating a
// create with the same reference returns the existing shipment.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Shipment, error) {
	shipment, created, err := s.createRecord(ctx, req)
	if err != nil || !created {
		return shipment, err
	}

	if err := s.CreateWaybill(ctx, req.Reference); err != nil {
		return shipment, err
	}
	return s.repo.FindByReference(ctx, req.Reference)
}

// CreateAsync creates the shipment record and defers waybill booking to the
// queue, keeping courier latency off the request path.
func (s *Service) CreateAsync(ctx context.Context, req *CreateRequest) (*Shipment, error) {
	shipment, created, err := s.createRecord(ctx, req)
	if err != nil || !created {
		return shipment, err
	}

	err = s.queue.Enqueue(ctx, Job{
		Name:    JobCreateWaybill,
		Payload: map[string]string{"reference": req.Reference},
	}, WithMaxAttempts(3), WithBackoff(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("enqueueing waybill creation: %w", err)
	}
	return shipment, nil
}

func (s *Service) createRecord(ctx context.Context, req *CreateRequest) (*Shipment, bool, error) {
	if _, err := s.registry.Resolve(req.CourierCode); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByReference(ctx, req.Reference)
	if err == nil {
		s.logger.Ctx(ctx).Info("Shipment already exists for reference",
			zap.String("reference", req.Reference),
		)
		return existing, false, nil
	}
	if !errors.Is(err, ErrShipmentNotFound) {
		return nil, false, err
	}

	metadata := map[string]any{"request": waybillRequest(req)}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	shipment := &Shipment{
		Reference:      req.Reference,
		CourierCode:    req.CourierCode,
		Status:         courier.StatusPending,
		CashOnDelivery: req.CashOnDelivery,
		CODAmount:      req.CODAmount,
		Metadata:       metadata,
	}
	if err := s.repo.CreateShipment(ctx, shipment); err != nil {
		return nil, false, fmt.Errorf("persisting shipment: %w", err)
	}
	return shipment, true, nil
}

// CreateWaybill books the waybill with the courier for a stored shipment.
// Already-booked shipments are left untouched, so retried jobs are safe.
func (s *Service) CreateWaybill(ctx context.Context, reference string) error {
	shipment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return err
	}
	if shipment.WaybillNumber != "" {
		return nil
	}

	adapter, err := s.registry.Resolve(shipment.CourierCode)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := adapter.CreateWaybill(ctx, s.waybillRequestFor(shipment))
	s.recordOutcome(ctx, "create_waybill", shipment.CourierCode, start, err)
	if err != nil {
		shipment.LastError = err.Error()
		if saveErr := s.repo.UpdateShipment(ctx, shipment); saveErr != nil {
			s.logger.Ctx(ctx).Error("Failed to record waybill error",
				zap.String("reference", reference),
				zap.Error(saveErr),
			)
		}
		return err
	}

	shipment.WaybillNumber = resp.WaybillNumber
	shipment.CourierReference = resp.CourierReference
	shipment.LabelURL = resp.LabelURL
	shipment.LastError = ""
	if err := s.repo.UpdateShipment(ctx, shipment); err != nil {
		return fmt.Errorf("persisting waybill number: %w", err)
	}

	s.logger.Ctx(ctx).Info("Waybill created",
		zap.String("reference", reference),
		zap.String("courier", shipment.CourierCode),
		zap.String("waybill_number", resp.WaybillNumber),
	)
	return nil
}

// Track returns the tracking history for a waybill, serving from the cache
// when possible. forceRefresh bypasses the cache read but still refreshes
// the cache entry, and every fresh fetch is reconciled into the repository.
func (s *Service) Track(ctx context.Context, waybillNumber string, forceRefresh bool) (*courier.TrackingResponse, error) {
	shipment, err := s.repo.FindByWaybillNumber(ctx, waybillNumber)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		if cached := s.cachedTracking(ctx, waybillNumber); cached != nil {
			return cached, nil
		}
	}

	adapter, err := s.registry.Resolve(shipment.CourierCode)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := adapter.Track(ctx, waybillNumber)
	s.recordOutcome(ctx, "track", shipment.CourierCode, start, err)
	if err != nil {
		// Nothing to reconcile; stored state stays as-is.
		return nil, err
	}

	if err := s.reconcile(ctx, shipment, resp); err != nil {
		return nil, err
	}
	s.cacheTracking(ctx, resp)
	return resp, nil
}

// reconcile merges a fresh tracking response into the stored shipment.
// Shipment fields and event rows are written in one repository transaction.
func (s *Service) reconcile(ctx context.Context, shipment *Shipment, resp *courier.TrackingResponse) error {
	events := make([]ShipmentEvent, len(resp.Events))
	for i, e := range resp.Events {
		events[i] = ShipmentEvent{
			ShipmentID:    shipment.ID,
			Status:        e.Status,
			CourierStatus: e.CourierStatus,
			Description:   e.Description,
			Location:      e.Location,
			Metadata:      e.Metadata,
			OccurredAt:    e.Timestamp,
		}
	}

	now := time.Now()
	shipment.Status = resp.CurrentStatus
	if latest := resp.LatestEvent(); latest != nil {
		shipment.CourierStatus = latest.CourierStatus
	}
	shipment.LastTrackedAt = &now

	if err := s.repo.SaveTrackingResult(ctx, shipment, events); err != nil {
		return fmt.Errorf("reconciling tracking for %s: %w", resp.WaybillNumber, err)
	}
	return nil
}

func trackingCacheKey(waybillNumber string) string {
	return "tracking:" + waybillNumber
}

func (s *Service) cachedTracking(ctx context.Context, waybillNumber string) *courier.TrackingResponse {
	data, err := s.rdb.Get(ctx, trackingCacheKey(waybillNumber)).Bytes()
	hit := err == nil
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
	if !hit {
		return nil
	}

	var resp courier.TrackingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	return &resp
}

func (s *Service) cacheTracking(ctx context.Context, resp *courier.TrackingResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	ttl := s.cache.ActiveTTL
	if resp.CurrentStatus.IsTerminal() {
		ttl = s.cache.TerminalTTL
	}

	if err := s.rdb.Set(ctx, trackingCacheKey(resp.WaybillNumber), data, ttl).Err(); err != nil {
		s.logger.Ctx(ctx).Warn("Failed to cache tracking response",
			zap.String("waybill_number", resp.WaybillNumber),
			zap.Error(err),
		)
	}
}

// GetLabel retrieves the waybill label, persisting a hosted label URL on the
// shipment the first time one is seen.
func (s *Service) GetLabel(ctx context.Context, waybillNumber string) (*courier.Label, error) {
	shipment, err := s.repo.FindByWaybillNumber(ctx, waybillNumber)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(shipment.CourierCode)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	label, err := adapter.GetLabel(ctx, waybillNumber)
	s.recordOutcome(ctx, "get_label", shipment.CourierCode, start, err)
	if err != nil {
		return nil, err
	}

	if label.IsURL && shipment.LabelURL != label.Content {
		shipment.LabelURL = label.Content
		if err := s.repo.UpdateShipment(ctx, shipment); err != nil {
			s.logger.Ctx(ctx).Warn("Failed to persist label URL",
				zap.String("waybill_number", waybillNumber),
				zap.Error(err),
			)
		}
	}
	return label, nil
}

// Cancel cancels a shipment, enforcing the cancellation policy before any
// courier call is made.
func (s *Service) Cancel(ctx context.Context, waybillNumber string) (*courier.CancellationResult, error) {
	shipment, err := s.repo.FindByWaybillNumber(ctx, waybillNumber)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(shipment.CourierCode)
	if err != nil {
		return nil, err
	}

	canceller, ok := adapter.(courier.Canceller)
	if !ok {
		return nil, fmt.Errorf("%w: %s", courier.ErrCancellationUnsupported, shipment.CourierCode)
	}

	if !canceller.CanBeCancelled(ctx, waybillNumber) {
		return nil, fmt.Errorf("%w: %s is %s", courier.ErrCancellationNotAllowed, waybillNumber, shipment.Status)
	}

	start := time.Now()
	result, err := canceller.Cancel(ctx, waybillNumber)
	s.recordOutcome(ctx, "cancel", shipment.CourierCode, start, err)
	if err != nil {
		return nil, err
	}

	if result.Success {
		shipment.Status = courier.StatusCancelled
		if err := s.repo.UpdateShipment(ctx, shipment); err != nil {
			return nil, fmt.Errorf("persisting cancellation: %w", err)
		}
		s.rdb.Del(ctx, trackingCacheKey(waybillNumber))
	}
	return result, nil
}

// EnqueueRefresh schedules an asynchronous tracking refresh for a waybill.
func (s *Service) EnqueueRefresh(ctx context.Context, waybillNumber string, delay time.Duration) error {
	return s.queue.Enqueue(ctx, Job{
		Name:    JobRefreshTracking,
		Payload: map[string]string{"waybill_number": waybillNumber},
	}, WithDelay(delay), WithMaxAttempts(3), WithBackoff(time.Minute))
}

// ActiveShipments lists shipments that still expect tracking updates.
func (s *Service) ActiveShipments(ctx context.Context, limit int) ([]Shipment, error) {
	return s.repo.ActiveShipments(ctx, limit)
}

// FindByWaybillNumber returns the stored shipment for a waybill.
func (s *Service) FindByWaybillNumber(ctx context.Context, waybillNumber string) (*Shipment, error) {
	return s.repo.FindByWaybillNumber(ctx, waybillNumber)
}

// FindByReference returns the stored shipment for a merchant reference.
func (s *Service) FindByReference(ctx context.Context, reference string) (*Shipment, error) {
	return s.repo.FindByReference(ctx, reference)
}

func (s *Service) waybillRequestFor(shipment *Shipment) *courier.WaybillRequest {
	req := &courier.WaybillRequest{
		Reference:      shipment.Reference,
		CashOnDelivery: shipment.CashOnDelivery,
		CODAmount:      shipment.CODAmount,
	}
	if stored, ok := shipment.Metadata["request"].(*courier.WaybillRequest); ok {
		return stored
	}
	if raw, ok := shipment.Metadata["request"]; ok {
		// Metadata round-trips through JSON, so rebuild the typed request.
		if data, err := json.Marshal(raw); err == nil {
			var full courier.WaybillRequest
			if err := json.Unmarshal(data, &full); err == nil {
				return &full
			}
		}
	}
	return req
}

func waybillRequest(req *CreateRequest) *courier.WaybillRequest {
	return &courier.WaybillRequest{
		Shipper:        req.Shipper,
		Receiver:       req.Receiver,
		Package:        req.Package,
		Reference:      req.Reference,
		ServiceType:    req.ServiceType,
		CashOnDelivery: req.CashOnDelivery,
		CODAmount:      req.CODAmount,
		Notes:          req.Notes,
		Metadata:       req.Metadata,
	}
}

func (s *Service) recordOutcome(ctx context.Context, operation, courierCode string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = courier.ErrorCode(err)
		if s.metrics != nil {
			s.metrics.RecordError(courierCode, status)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordRequest(operation, courierCode, status, time.Since(start).Seconds())
	}
}
