package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/shipbridge/courier-gateway/internal/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ErrNoWaybillNumber indicates the webhook payload carried no recognizable
// waybill identifier.
var ErrNoWaybillNumber = errors.New("webhook payload has no waybill number")

// ShipmentRefresher is the slice of the shipment service the webhook
// pipeline needs: look up the waybill and schedule a refresh.
type ShipmentRefresher interface {
	FindByWaybillNumber(ctx context.Context, waybillNumber string) (*shipments.Shipment, error)
	EnqueueRefresh(ctx context.Context, waybillNumber string, delay time.Duration) error
}

// Service processes verified webhook payloads: extract the waybill number,
// match it to a stored shipment, and trigger an asynchronous tracking refresh.
type Service struct {
	verifier  *Verifier
	shipments ShipmentRefresher
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
}

// NewService creates a webhook service.
func NewService(verifier *Verifier, refresher ShipmentRefresher, logger *otelzap.Logger) *Service {
	return &Service{verifier: verifier, shipments: refresher, logger: logger}
}

// WithMetrics attaches webhook delivery metrics.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) recordDelivery(courierCode, reason string) {
	if s.metrics != nil {
		s.metrics.RecordWebhook(courierCode, reason)
	}
}

// Process verifies and handles one webhook delivery. Verification failures
// return an *AuthError and nothing is enqueued.
func (s *Service) Process(ctx context.Context, courierCode string, body []byte, signature, timestamp string) error {
	if err := s.verifier.Verify(ctx, courierCode, body, signature, timestamp); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			s.recordDelivery(courierCode, authErr.Reason)
		}
		return err
	}
	s.recordDelivery(courierCode, "")

	waybillNumber, err := extractWaybillNumber(body)
	if err != nil {
		return err
	}

	if _, err := s.shipments.FindByWaybillNumber(ctx, waybillNumber); err != nil {
		if errors.Is(err, shipments.ErrShipmentNotFound) {
			// Not ours; acknowledge so the courier stops redelivering.
			s.logger.Ctx(ctx).Warn("Webhook for unknown waybill",
				zap.String("courier", courierCode),
				zap.String("waybill_number", waybillNumber),
			)
			return nil
		}
		return err
	}

	if err := s.shipments.EnqueueRefresh(ctx, waybillNumber, 0); err != nil {
		return fmt.Errorf("enqueueing tracking refresh: %w", err)
	}

	s.logger.Ctx(ctx).Info("Webhook accepted",
		zap.String("courier", courierCode),
		zap.String("waybill_number", waybillNumber),
	)
	return nil
}

// extractWaybillNumber pulls the waybill identifier out of a courier webhook
// payload. Couriers disagree on the field name, so the known aliases are
// tried in order.
func extractWaybillNumber(body []byte) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decoding webhook payload: %w", err)
	}

	for _, field := range []string{"ShipmentNumber", "WaybillNumber", "ID", "tracking_number", "waybill_number"} {
		if v, ok := payload[field].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrNoWaybillNumber
}
