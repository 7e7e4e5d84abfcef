package aramex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/shipbridge/courier-gateway/pkg/courier/transport"
)

const (
	createShipmentsPath = "/Shipping/Service_1_0.svc/json/CreateShipments"
	printLabelPath      = "/Shipping/Service_1_0.svc/json/PrintLabel"
	trackShipmentsPath  = "/Tracking/Service_1_0.svc/json/TrackShipments"
	cancelShipmentPath  = "/Shipping/Service_1_0.svc/json/CancelShipment"
)

// HTTPAPIClient is the production implementation of APIClient. All requests
// go through the retrying transport; the circuit breaker gate sits above
// this layer in the adapter.
type HTTPAPIClient struct {
	baseURL   string
	transport *transport.Client
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(baseURL string, tc *transport.Client) *HTTPAPIClient {
	return &HTTPAPIClient{
		baseURL:   baseURL,
		transport: tc,
	}
}

// CreateShipments creates shipments via the Aramex API.
func (c *HTTPAPIClient) CreateShipments(ctx context.Context, req *CreateShipmentsRequest) (*CreateShipmentsResponse, error) {
	var resp CreateShipmentsResponse
	if err := c.post(ctx, createShipmentsPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PrintLabel retrieves a shipment label via the Aramex API.
func (c *HTTPAPIClient) PrintLabel(ctx context.Context, req *PrintLabelRequest) (*PrintLabelResponse, error) {
	var resp PrintLabelResponse
	if err := c.post(ctx, printLabelPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TrackShipments retrieves tracking updates via the Aramex API.
func (c *HTTPAPIClient) TrackShipments(ctx context.Context, req *TrackShipmentsRequest) (*TrackShipmentsResponse, error) {
	var resp TrackShipmentsResponse
	if err := c.post(ctx, trackShipmentsPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelShipment cancels a shipment via the Aramex API.
func (c *HTTPAPIClient) CancelShipment(ctx context.Context, req *CancelShipmentRequest) (*CancelShipmentResponse, error) {
	var resp CancelShipmentResponse
	if err := c.post(ctx, cancelShipmentPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPAPIClient) post(ctx context.Context, path string, payload, out any) error {
	headers := http.Header{}
	headers.Set("User-Agent", "courier-gateway/1.0")

	err := c.transport.PostJSON(ctx, c.baseURL+path, payload, headers, out)
	if err != nil {
		return c.classify(err)
	}
	return nil
}

// classify converts a terminal HTTP rejection into a courier API error using
// the Aramex error payload format. Transport errors pass through unchanged.
func (c *HTTPAPIClient) classify(err error) error {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	message := parseErrorBody(statusErr.Body)
	if message == "" {
		message = http.StatusText(statusErr.StatusCode)
	}
	return courier.NewAPIError(carrierCode, statusErr.StatusCode, message).WithCause(err)
}

// parseErrorBody extracts Aramex notifications from an error response body.
func parseErrorBody(body []byte) string {
	var envelope struct {
		Notifications []Notification `json:"Notifications"`
		Message       string         `json:"Message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Notifications) > 0 {
		return formatNotifications(envelope.Notifications)
	}
	return envelope.Message
}

// formatNotifications renders Aramex (code, message) pairs into one message.
func formatNotifications(notifications []Notification) string {
	if len(notifications) == 0 {
		return "Unknown error occurred"
	}
	msg := ""
	for i, n := range notifications {
		if i > 0 {
			msg += " | "
		}
		code := n.Code
		if code == "" {
			code = "UNKNOWN"
		}
		text := n.Message
		if text == "" {
			text = "No message provided"
		}
		msg += fmt.Sprintf("[%s] %s", code, text)
	}
	return msg
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
