package aramex_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/shipbridge/courier-gateway/pkg/courier/aramex"
	"github.com/shipbridge/courier-gateway/pkg/courier/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, mockClient *aramex.MockAPIClient) *aramex.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := otelzap.New(zap.NewNop())
	guard := breaker.NewGuard(breaker.New(rdb, breaker.Config{}), "aramex", logger)

	return aramex.NewWithAPIClient(
		aramex.Config{Username: "test@example.com", Password: "secret", AccountNumber: "12345"},
		mockClient,
		guard,
		logger,
		nil,
	)
}

func testWaybillRequest() *courier.WaybillRequest {
	return &courier.WaybillRequest{
		Shipper: courier.Address{
			Name:         "Warehouse",
			Phone:        "+966500000001",
			AddressLine1: "King Fahd Rd",
			City:         "Riyadh",
			CountryCode:  "SA",
		},
		Receiver: courier.Address{
			Name:         "Customer",
			Phone:        "+966500000002",
			AddressLine1: "Corniche Rd",
			City:         "Jeddah",
			CountryCode:  "SA",
		},
		Package: courier.Package{
			Weight:        2.5,
			Length:        30,
			Width:         20,
			Height:        10,
			Description:   "Electronics",
			DeclaredValue: 350,
			Currency:      "SAR",
		},
		Reference:   "ORDER-1001",
		ServiceType: courier.ServiceStandard,
	}
}

func TestClient_CreateWaybill_Success(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.OnCreateShipments = func(ctx context.Context, req *aramex.CreateShipmentsRequest) (*aramex.CreateShipmentsResponse, error) {
		require.Len(t, req.Shipments, 1)
		assert.Equal(t, "ORDER-1001", req.Shipments[0].Reference1)
		assert.Equal(t, "PDX", req.Shipments[0].Details.ProductType)

		return &aramex.CreateShipmentsResponse{
			HasErrors: false,
			Shipments: []aramex.ProcessedShipment{
				{
					ID:            "AMX123456789",
					ForeignHAWB:   "ORDER-1001",
					ShipmentLabel: &aramex.ShipmentLabel{LabelURL: "https://ws.aramex.net/labels/AMX123456789.pdf"},
				},
			},
		}, nil
	}

	client := newTestClient(t, mockAPI)

	resp, err := client.CreateWaybill(context.Background(), testWaybillRequest())

	require.NoError(t, err)
	assert.Equal(t, "AMX123456789", resp.WaybillNumber)
	assert.Equal(t, "ORDER-1001", resp.CourierReference)
	assert.Equal(t, "https://ws.aramex.net/labels/AMX123456789.pdf", resp.LabelURL)
}

func TestClient_CreateWaybill_BusinessError(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.OnCreateShipments = func(ctx context.Context, req *aramex.CreateShipmentsRequest) (*aramex.CreateShipmentsResponse, error) {
		return &aramex.CreateShipmentsResponse{
			HasErrors: true,
			Notifications: []aramex.Notification{
				{Code: "ERR52", Message: "Consignee phone number is required"},
			},
		}, nil
	}

	client := newTestClient(t, mockAPI)

	_, err := client.CreateWaybill(context.Background(), testWaybillRequest())

	require.Error(t, err)
	var apiErr *courier.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "aramex", apiErr.Courier)
	assert.Contains(t, apiErr.Message, "[ERR52] Consignee phone number is required")
}

func TestClient_CreateWaybill_ExpressProduct(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()

	var captured *aramex.CreateShipmentsRequest
	mockAPI.OnCreateShipments = func(ctx context.Context, req *aramex.CreateShipmentsRequest) (*aramex.CreateShipmentsResponse, error) {
		captured = req
		return &aramex.CreateShipmentsResponse{
			Shipments: []aramex.ProcessedShipment{{ID: "AMX1"}},
		}, nil
	}

	client := newTestClient(t, mockAPI)

	req := testWaybillRequest()
	req.ServiceType = courier.ServiceExpress
	req.CashOnDelivery = true
	req.CODAmount = 150

	_, err := client.CreateWaybill(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "EPX", captured.Shipments[0].Details.ProductType)
	assert.Equal(t, "CODS", captured.Shipments[0].Services)
	assert.Equal(t, 150.0, captured.Shipments[0].CashOnDeliveryAmount.Value)
}

func TestClient_CircuitBreaker_OpensAfterFailures(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()

	calls := 0
	mockAPI.OnTrackShipments = func(ctx context.Context, req *aramex.TrackShipmentsRequest) (*aramex.TrackShipmentsResponse, error) {
		calls++
		return nil, &courier.TransportError{URL: "https://ws.aramex.net", Attempts: 3, Cause: fmt.Errorf("connection refused")}
	}

	client := newTestClient(t, mockAPI)
	ctx := context.Background()

	// Default failure threshold is 5.
	for i := 0; i < 5; i++ {
		_, err := client.Track(ctx, "AMX123456789")
		require.Error(t, err)
	}
	assert.Equal(t, 5, calls)
	assert.False(t, client.IsAvailable(ctx))

	// The open circuit short-circuits before reaching the API.
	_, err := client.Track(ctx, "AMX123456789")
	require.ErrorIs(t, err, courier.ErrCourierUnavailable)
	assert.Equal(t, 5, calls)
}

func TestClient_Track_Success(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.OnTrackShipments = func(ctx context.Context, req *aramex.TrackShipmentsRequest) (*aramex.TrackShipmentsResponse, error) {
		return &aramex.TrackShipmentsResponse{
			TrackingResults: []aramex.TrackingResult{
				{
					Key: "AMX123456789",
					Value: []aramex.TrackingUpdate{
						{
							UpdateCode:        "SH008",
							UpdateDescription: "Delivered",
							UpdateDateTime:    "/Date(1633024800000)/",
							UpdateLocation:    "Jeddah",
						},
						{
							UpdateCode:        "SH004",
							UpdateDescription: "In transit",
							UpdateDateTime:    "/Date(1632938400000)/",
							UpdateLocation:    "Riyadh Hub",
						},
					},
				},
			},
		}, nil
	}

	client := newTestClient(t, mockAPI)

	resp, err := client.Track(context.Background(), "AMX123456789")

	require.NoError(t, err)
	assert.Equal(t, courier.StatusDelivered, resp.CurrentStatus)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "SH008", resp.Events[0].CourierStatus)
	assert.Equal(t, int64(1633024800), resp.Events[0].Timestamp.Unix())
	assert.Equal(t, courier.StatusInTransit, resp.Events[1].Status)
}

func TestClient_Track_NoResults(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.OnTrackShipments = func(ctx context.Context, req *aramex.TrackShipmentsRequest) (*aramex.TrackShipmentsResponse, error) {
		return &aramex.TrackShipmentsResponse{}, nil
	}

	client := newTestClient(t, mockAPI)

	_, err := client.Track(context.Background(), "AMX000")

	require.Error(t, err)
	var apiErr *courier.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestClient_GetLabel_InlineContents(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.OnPrintLabel = func(ctx context.Context, req *aramex.PrintLabelRequest) (*aramex.PrintLabelResponse, error) {
		return &aramex.PrintLabelResponse{
			ShipmentLabel: &aramex.ShipmentLabel{
				LabelFileContents: "JVBERi0xLjQK",
				LabelURL:          "https://ws.aramex.net/labels/ignored.pdf",
			},
		}, nil
	}

	client := newTestClient(t, mockAPI)

	label, err := client.GetLabel(context.Background(), "AMX123456789")

	require.NoError(t, err)
	assert.False(t, label.IsURL)
	assert.Equal(t, "JVBERi0xLjQK", label.Content)
	assert.Equal(t, "application/pdf", label.ContentType)
}

func TestClient_GetLabel_URLFallback(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	label, err := client.GetLabel(context.Background(), "AMX123456789")

	require.NoError(t, err)
	assert.True(t, label.IsURL)
	assert.Contains(t, label.Content, "AMX123456789")
}

func TestClient_Cancel_Success(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	client := newTestClient(t, mockAPI)

	result, err := client.Cancel(context.Background(), "AMX123456789")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "AMX123456789", result.CourierReference)
}

func TestClient_Cancel_Rejected(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.OnCancelShipment = func(ctx context.Context, req *aramex.CancelShipmentRequest) (*aramex.CancelShipmentResponse, error) {
		return &aramex.CancelShipmentResponse{
			HasErrors: true,
			Notifications: []aramex.Notification{
				{Code: "ERR90", Message: "Shipment already dispatched"},
			},
		}, nil
	}

	client := newTestClient(t, mockAPI)

	result, err := client.Cancel(context.Background(), "AMX123456789")

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "[ERR90] Shipment already dispatched")
}

func TestClient_CanBeCancelled(t *testing.T) {
	trackingWith := func(code string) func(context.Context, *aramex.TrackShipmentsRequest) (*aramex.TrackShipmentsResponse, error) {
		return func(ctx context.Context, req *aramex.TrackShipmentsRequest) (*aramex.TrackShipmentsResponse, error) {
			return &aramex.TrackShipmentsResponse{
				TrackingResults: []aramex.TrackingResult{
					{
						Key: req.Shipments[0],
						Value: []aramex.TrackingUpdate{
							{UpdateCode: code, UpdateDateTime: fmt.Sprintf("/Date(%d)/", time.Now().UnixMilli())},
						},
					},
				},
			}, nil
		}
	}

	tests := []struct {
		name string
		code string
		want bool
	}{
		{"in transit is cancellable", "SH004", true},
		{"pending is cancellable", "SH001", true},
		{"out for delivery is not", "SH007", false},
		{"delivered is not", "SH008", false},
		{"returned is not", "SH016", false},
		{"cancelled is not", "SH017", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAPI := aramex.NewMockAPIClient()
			mockAPI.OnTrackShipments = trackingWith(tt.code)
			client := newTestClient(t, mockAPI)

			assert.Equal(t, tt.want, client.CanBeCancelled(context.Background(), "AMX123456789"))
		})
	}
}

func TestClient_CanBeCancelled_FailsClosed(t *testing.T) {
	mockAPI := aramex.NewMockAPIClient()
	mockAPI.SimulateErrors = true

	client := newTestClient(t, mockAPI)

	assert.False(t, client.CanBeCancelled(context.Background(), "AMX123456789"))
}

func TestClient_MapStatus(t *testing.T) {
	client := newTestClient(t, aramex.NewMockAPIClient())

	codes := map[string]courier.Status{
		"SH001": courier.StatusPending,
		"SH002": courier.StatusPickedUp,
		"SH003": courier.StatusInTransit,
		"SH004": courier.StatusInTransit,
		"SH005": courier.StatusInTransit,
		"SH006": courier.StatusInTransit,
		"SH007": courier.StatusOutForDelivery,
		"SH008": courier.StatusDelivered,
		"SH009": courier.StatusDeliveryFailed,
		"SH010": courier.StatusDeliveryFailed,
		"SH011": courier.StatusDeliveryFailed,
		"SH012": courier.StatusException,
		"SH013": courier.StatusException,
		"SH014": courier.StatusException,
		"SH015": courier.StatusReturned,
		"SH016": courier.StatusReturned,
		"SH017": courier.StatusCancelled,
	}
	for code, want := range codes {
		assert.Equal(t, want, client.MapStatus(code), code)
	}

	// Case and whitespace are normalized; aliases map like their codes.
	assert.Equal(t, courier.StatusDelivered, client.MapStatus("sh008"))
	assert.Equal(t, courier.StatusDelivered, client.MapStatus(" DELIVERED "))
	assert.Equal(t, courier.StatusOutForDelivery, client.MapStatus("OUT_FOR_DELIVERY"))
	assert.Equal(t, courier.StatusException, client.MapStatus("SOMETHING_NEW"))
	assert.Equal(t, courier.StatusException, client.MapStatus(""))
}

func TestClient_Identity(t *testing.T) {
	client := newTestClient(t, aramex.NewMockAPIClient())

	assert.Equal(t, "aramex", client.Code())
	assert.Equal(t, "Aramex", client.Name())
}
