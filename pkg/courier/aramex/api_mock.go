package aramex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shipbridge/courier-gateway/pkg/courier"
)

// MockAPIClient is a mock implementation of APIClient for testing.
// SimulateErrors makes every call fail like a network outage, which is what
// the circuit breaker reacts to in tests.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateShipments func(ctx context.Context, req *CreateShipmentsRequest) (*CreateShipmentsResponse, error)
	OnPrintLabel      func(ctx context.Context, req *PrintLabelRequest) (*PrintLabelResponse, error)
	OnTrackShipments  func(ctx context.Context, req *TrackShipmentsRequest) (*TrackShipmentsResponse, error)
	OnCancelShipment  func(ctx context.Context, req *CancelShipmentRequest) (*CancelShipmentResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate(url string) error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &courier.TransportError{
			URL:      url,
			Attempts: 3,
			Cause:    fmt.Errorf("simulated connection failure"),
		}
	}
	return nil
}

// CreateShipments creates a mock shipment.
func (m *MockAPIClient) CreateShipments(ctx context.Context, req *CreateShipmentsRequest) (*CreateShipmentsResponse, error) {
	if err := m.simulate(createShipmentsPath); err != nil {
		return nil, err
	}

	if m.OnCreateShipments != nil {
		return m.OnCreateShipments(ctx, req)
	}

	waybillNumber := fmt.Sprintf("AMX%d", 10000000000+time.Now().UnixNano()%90000000000)

	reference := ""
	foreignHAWB := ""
	if len(req.Shipments) > 0 {
		reference = req.Shipments[0].Reference1
		foreignHAWB = req.Shipments[0].ForeignHAWB
	}

	return &CreateShipmentsResponse{
		Transaction: req.Transaction,
		HasErrors:   false,
		Shipments: []ProcessedShipment{
			{
				ID:          waybillNumber,
				Reference1:  reference,
				ForeignHAWB: foreignHAWB,
				HasErrors:   false,
				ShipmentLabel: &ShipmentLabel{
					LabelURL: fmt.Sprintf("https://ws.aramex.net/content/rpt_cache/%s.pdf", uuid.New().String()[:8]),
				},
			},
		},
	}, nil
}

// PrintLabel retrieves a mock shipment label.
func (m *MockAPIClient) PrintLabel(ctx context.Context, req *PrintLabelRequest) (*PrintLabelResponse, error) {
	if err := m.simulate(printLabelPath); err != nil {
		return nil, err
	}

	if m.OnPrintLabel != nil {
		return m.OnPrintLabel(ctx, req)
	}

	return &PrintLabelResponse{
		Transaction: req.Transaction,
		HasErrors:   false,
		ShipmentLabel: &ShipmentLabel{
			LabelURL: fmt.Sprintf("https://ws.aramex.net/content/rpt_cache/%s.pdf", req.ShipmentNumber),
		},
	}, nil
}

// TrackShipments retrieves mock tracking updates, newest first.
func (m *MockAPIClient) TrackShipments(ctx context.Context, req *TrackShipmentsRequest) (*TrackShipmentsResponse, error) {
	if err := m.simulate(trackShipmentsPath); err != nil {
		return nil, err
	}

	if m.OnTrackShipments != nil {
		return m.OnTrackShipments(ctx, req)
	}

	waybillNumber := "AMX00000000000"
	if len(req.Shipments) > 0 {
		waybillNumber = req.Shipments[0]
	}

	now := time.Now()
	return &TrackShipmentsResponse{
		Transaction: req.Transaction,
		HasErrors:   false,
		TrackingResults: []TrackingResult{
			{
				Key: waybillNumber,
				Value: []TrackingUpdate{
					{
						WaybillNumber:     waybillNumber,
						UpdateCode:        "SH004",
						UpdateDescription: "Shipment in transit",
						UpdateDateTime:    fmt.Sprintf("/Date(%d)/", now.Add(-6*time.Hour).UnixMilli()),
						UpdateLocation:    "Jeddah Hub",
					},
					{
						WaybillNumber:     waybillNumber,
						UpdateCode:        "SH002",
						UpdateDescription: "Shipment collected from shipper",
						UpdateDateTime:    fmt.Sprintf("/Date(%d)/", now.Add(-24*time.Hour).UnixMilli()),
						UpdateLocation:    "Riyadh",
					},
				},
			},
		},
	}, nil
}

// CancelShipment cancels a mock shipment.
func (m *MockAPIClient) CancelShipment(ctx context.Context, req *CancelShipmentRequest) (*CancelShipmentResponse, error) {
	if err := m.simulate(cancelShipmentPath); err != nil {
		return nil, err
	}

	if m.OnCancelShipment != nil {
		return m.OnCancelShipment(ctx, req)
	}

	return &CancelShipmentResponse{
		Transaction: req.Transaction,
		HasErrors:   false,
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
