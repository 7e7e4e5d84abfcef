// Package refresher periodically re-polls tracking for active shipments, so
// shipments keep moving even when a courier never delivers a webhook.
package refresher

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Refresher schedules batch tracking refreshes on a cron schedule.
type Refresher struct {
	shipments *shipments.Service
	schedule  string
	batch     int
	logger    *otelzap.Logger
	cron      *cron.Cron
}

// New creates a refresher. schedule is a standard five-field cron expression.
func New(shipmentService *shipments.Service, schedule string, batch int, logger *otelzap.Logger) *Refresher {
	if batch <= 0 {
		batch = 100
	}
	return &Refresher{
		shipments: shipmentService,
		schedule:  schedule,
		batch:     batch,
		logger:    logger,
	}
}

// Start begins the cron loop. The loop stops when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		r.RefreshActive(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	go func() {
		<-ctx.Done()
		r.cron.Stop()
	}()
	return nil
}

// RefreshActive enqueues a tracking refresh for every active shipment in the
// current batch. Failures are logged per shipment and never stop the sweep.
func (r *Refresher) RefreshActive(ctx context.Context) {
	active, err := r.shipments.ActiveShipments(ctx, r.batch)
	if err != nil {
		r.logger.Ctx(ctx).Error("Failed to list active shipments", zap.Error(err))
		return
	}

	for _, shipment := range active {
		if err := r.shipments.EnqueueRefresh(ctx, shipment.WaybillNumber, 0); err != nil {
			r.logger.Ctx(ctx).Warn("Failed to enqueue tracking refresh",
				zap.String("waybill_number", shipment.WaybillNumber),
				zap.Error(err),
			)
		}
	}

	r.logger.Ctx(ctx).Info("Tracking refresh sweep scheduled",
		zap.Int("shipments", len(active)),
	)
}
