// Package aramex provides integration with the Aramex Shipping API.
package aramex

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/shipbridge/courier-gateway/pkg/courier/breaker"
	"github.com/shipbridge/courier-gateway/pkg/courier/transport"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierCode = "aramex"
	carrierName = "Aramex"
)

// Config holds Aramex configuration.
type Config struct {
	BaseURL            string
	Username           string
	Password           string
	AccountNumber      string
	AccountPin         string
	AccountEntity      string
	AccountCountryCode string
	UseMock            bool // When true, uses a mock API client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://ws.aramex.net/ShippingAPI.V2"
	}
	if c.AccountPin == "" {
		c.AccountPin = "000000"
	}
	if c.AccountEntity == "" {
		c.AccountEntity = "RUH"
	}
	if c.AccountCountryCode == "" {
		c.AccountCountryCode = "SA"
	}
	return c
}

// Client is the Aramex courier adapter. It implements courier.Courier and
// courier.Canceller, gates every network call through the circuit breaker,
// and delegates wire calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	guard     *breaker.Guard
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Aramex client. If cfg.UseMock is true, it uses a mock
// API client for testing. Otherwise, it uses the real HTTP API client.
func New(cfg Config, tc *transport.Client, guard *breaker.Guard, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	cfg = cfg.withDefaults()

	var apiClient APIClient
	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(cfg.BaseURL, tc)
	}

	return &Client{
		config:    cfg,
		apiClient: apiClient,
		guard:     guard,
		logger:    logger,
		tracer:    tracer,
	}
}

// NewWithAPIClient creates a new Aramex client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, guard *breaker.Guard, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg.withDefaults(),
		apiClient: apiClient,
		guard:     guard,
		logger:    logger,
		tracer:    tracer,
	}
}

// Code returns the courier code.
func (c *Client) Code() string {
	return carrierCode
}

// Name returns the courier display name.
func (c *Client) Name() string {
	return carrierName
}

// IsAvailable reports whether the Aramex circuit breaker permits calls.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.guard.Available(ctx)
}

// CreateWaybill creates a shipment with Aramex.
func (c *Client) CreateWaybill(ctx context.Context, req *courier.WaybillRequest) (*courier.WaybillResponse, error) {
	if err := c.guard.Allow(ctx); err != nil {
		return nil, err
	}
	resp, err := c.createWaybill(ctx, req)
	c.guard.Observe(ctx, err)
	return resp, err
}

func (c *Client) createWaybill(ctx context.Context, req *courier.WaybillRequest) (*courier.WaybillResponse, error) {
	c.logger.Ctx(ctx).Info("Creating Aramex waybill",
		zap.String("reference", req.Reference),
		zap.String("destination_city", req.Receiver.City),
	)

	apiResp, err := c.apiClient.CreateShipments(ctx, c.buildCreateShipmentsRequest(req))
	if err != nil {
		c.logger.Ctx(ctx).Error("Aramex API error", zap.Error(err))
		return nil, err
	}

	if apiResp.HasErrors {
		return nil, courier.NewAPIError(carrierCode, 422, formatNotifications(apiResp.Notifications))
	}
	if len(apiResp.Shipments) == 0 {
		return nil, courier.NewAPIError(carrierCode, 502, "Aramex returned no shipments in response")
	}

	shipment := apiResp.Shipments[0]
	if shipment.ID == "" {
		return nil, courier.NewAPIError(carrierCode, 502, "Aramex did not return a shipment ID")
	}

	courierRef := shipment.ForeignHAWB
	if courierRef == "" {
		courierRef = req.Reference
	}

	labelURL := ""
	if shipment.ShipmentLabel != nil {
		labelURL = shipment.ShipmentLabel.LabelURL
	}

	return &courier.WaybillResponse{
		WaybillNumber:    shipment.ID,
		CourierReference: courierRef,
		LabelURL:         labelURL,
		Metadata: map[string]any{
			"aramex_shipment_id": shipment.ID,
			"notifications":      apiResp.Notifications,
		},
	}, nil
}

// GetLabel retrieves the waybill label from Aramex.
func (c *Client) GetLabel(ctx context.Context, waybillNumber string) (*courier.Label, error) {
	if err := c.guard.Allow(ctx); err != nil {
		return nil, err
	}
	label, err := c.getLabel(ctx, waybillNumber)
	c.guard.Observe(ctx, err)
	return label, err
}

func (c *Client) getLabel(ctx context.Context, waybillNumber string) (*courier.Label, error) {
	apiResp, err := c.apiClient.PrintLabel(ctx, &PrintLabelRequest{
		ClientInfo:     c.clientInfo(),
		ShipmentNumber: waybillNumber,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Aramex API error", zap.Error(err))
		return nil, err
	}

	if apiResp.HasErrors {
		return nil, courier.NewAPIError(carrierCode, 422, formatNotifications(apiResp.Notifications))
	}

	if apiResp.ShipmentLabel != nil {
		if apiResp.ShipmentLabel.LabelFileContents != "" {
			return &courier.Label{
				Content:     apiResp.ShipmentLabel.LabelFileContents,
				Format:      "pdf",
				ContentType: "application/pdf",
				IsURL:       false,
			}, nil
		}
		if apiResp.ShipmentLabel.LabelURL != "" {
			return &courier.Label{
				Content:     apiResp.ShipmentLabel.LabelURL,
				Format:      "pdf",
				ContentType: "application/pdf",
				IsURL:       true,
			}, nil
		}
	}

	return nil, courier.NewAPIError(carrierCode, 502, "no label data found in Aramex response")
}

// Track retrieves the tracking history for a waybill from Aramex.
func (c *Client) Track(ctx context.Context, waybillNumber string) (*courier.TrackingResponse, error) {
	if err := c.guard.Allow(ctx); err != nil {
		return nil, err
	}
	resp, err := c.track(ctx, waybillNumber)
	c.guard.Observe(ctx, err)
	return resp, err
}

func (c *Client) track(ctx context.Context, waybillNumber string) (*courier.TrackingResponse, error) {
	apiResp, err := c.apiClient.TrackShipments(ctx, &TrackShipmentsRequest{
		ClientInfo:                c.clientInfo(),
		Shipments:                 []string{waybillNumber},
		GetLastTrackingUpdateOnly: false,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Aramex API error", zap.Error(err))
		return nil, err
	}

	if apiResp.HasErrors {
		return nil, courier.NewAPIError(carrierCode, 422, formatNotifications(apiResp.Notifications))
	}
	if len(apiResp.TrackingResults) == 0 {
		return nil, courier.NewAPIError(carrierCode, 404, "no tracking results found for waybill: "+waybillNumber)
	}

	updates := apiResp.TrackingResults[0].Value
	events := make([]courier.TrackingEvent, len(updates))
	for i, u := range updates {
		events[i] = c.mapTrackingEvent(u)
	}

	currentStatus := courier.StatusPending
	if len(events) > 0 {
		currentStatus = events[0].Status
	}

	return &courier.TrackingResponse{
		WaybillNumber: waybillNumber,
		CurrentStatus: currentStatus,
		Events:        events,
		Metadata: map[string]any{
			"total_events": len(events),
		},
	}, nil
}

// Cancel cancels a shipment with Aramex. Business-level rejections are
// reported through the result, not as an error.
func (c *Client) Cancel(ctx context.Context, waybillNumber string) (*courier.CancellationResult, error) {
	if err := c.guard.Allow(ctx); err != nil {
		return nil, err
	}
	result, err := c.cancel(ctx, waybillNumber)
	c.guard.Observe(ctx, err)
	return result, err
}

func (c *Client) cancel(ctx context.Context, waybillNumber string) (*courier.CancellationResult, error) {
	c.logger.Ctx(ctx).Info("Cancelling Aramex shipment",
		zap.String("waybill_number", waybillNumber),
	)

	apiResp, err := c.apiClient.CancelShipment(ctx, &CancelShipmentRequest{
		ClientInfo:     c.clientInfo(),
		ShipmentNumber: waybillNumber,
		Comments:       "Cancelled by shipper",
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Aramex API error", zap.Error(err))
		return nil, err
	}

	if apiResp.HasErrors {
		return &courier.CancellationResult{
			Success:          false,
			Message:          formatNotifications(apiResp.Notifications),
			CourierReference: waybillNumber,
			Metadata:         map[string]any{"notifications": apiResp.Notifications},
		}, nil
	}

	return &courier.CancellationResult{
		Success:          true,
		Message:          "Shipment cancelled successfully",
		CourierReference: waybillNumber,
		Metadata:         map[string]any{"notifications": apiResp.Notifications},
	}, nil
}

// CanBeCancelled reports whether a shipment is still cancellable. Any error
// while checking is treated as "cannot cancel".
func (c *Client) CanBeCancelled(ctx context.Context, waybillNumber string) bool {
	tracking, err := c.Track(ctx, waybillNumber)
	if err != nil {
		return false
	}

	switch tracking.CurrentStatus {
	case courier.StatusDelivered, courier.StatusOutForDelivery, courier.StatusCancelled, courier.StatusReturned:
		return false
	}
	return true
}

// statusTable maps Aramex status codes to unified statuses. SH003 through
// SH006 are all hub-to-hub movement and normalize to in_transit.
var statusTable = map[string]courier.Status{
	// Initial statuses
	"SH001":            courier.StatusPending,
	"CREATED":          courier.StatusPending,
	"SHIPMENT_CREATED": courier.StatusPending,

	// Pickup statuses
	"SH002":              courier.StatusPickedUp,
	"COLLECTED":          courier.StatusPickedUp,
	"PICKED_UP":          courier.StatusPickedUp,
	"SHIPMENT_PICKED_UP": courier.StatusPickedUp,

	// In transit statuses
	"SH003":                   courier.StatusInTransit,
	"RECEIVED_AT_ORIGIN":      courier.StatusInTransit,
	"AT_ORIGIN_HUB":           courier.StatusInTransit,
	"SH004":                   courier.StatusInTransit,
	"SHIPPED":                 courier.StatusInTransit,
	"IN_TRANSIT":              courier.StatusInTransit,
	"ON_THE_WAY":              courier.StatusInTransit,
	"SH005":                   courier.StatusInTransit,
	"ARRIVED_AT_DESTINATION":  courier.StatusInTransit,
	"AT_DESTINATION_HUB":      courier.StatusInTransit,
	"SH006":                   courier.StatusInTransit,
	"RECEIVED_AT_DESTINATION": courier.StatusInTransit,

	// Out for delivery
	"SH007":                 courier.StatusOutForDelivery,
	"OUT_FOR_DELIVERY":      courier.StatusOutForDelivery,
	"WITH_DELIVERY_COURIER": courier.StatusOutForDelivery,

	// Delivered
	"SH008":              courier.StatusDelivered,
	"DELIVERED":          courier.StatusDelivered,
	"SHIPMENT_DELIVERED": courier.StatusDelivered,

	// Failed delivery
	"SH009":                  courier.StatusDeliveryFailed,
	"NOT_DELIVERED":          courier.StatusDeliveryFailed,
	"DELIVERY_FAILED":        courier.StatusDeliveryFailed,
	"SH010":                  courier.StatusDeliveryFailed,
	"CUSTOMER_NOT_AVAILABLE": courier.StatusDeliveryFailed,
	"SH011":                  courier.StatusDeliveryFailed,
	"WRONG_ADDRESS":          courier.StatusDeliveryFailed,

	// Exceptions
	"SH012":             courier.StatusException,
	"ON_HOLD":           courier.StatusException,
	"HELD":              courier.StatusException,
	"SH013":             courier.StatusException,
	"CUSTOMS_CLEARANCE": courier.StatusException,
	"SH014":             courier.StatusException,
	"EXCEPTION":         courier.StatusException,
	"PROBLEM_OCCURRED":  courier.StatusException,

	// Returns
	"SH015":               courier.StatusReturned,
	"RETURN_TO_SHIPPER":   courier.StatusReturned,
	"RETURNING":           courier.StatusReturned,
	"SH016":               courier.StatusReturned,
	"RETURNED":            courier.StatusReturned,
	"RETURNED_TO_SHIPPER": courier.StatusReturned,

	// Cancelled
	"SH017":              courier.StatusCancelled,
	"CANCELLED":          courier.StatusCancelled,
	"SHIPMENT_CANCELLED": courier.StatusCancelled,
}

// MapStatus normalizes an Aramex status code. Unknown codes map to
// exception so they are never silently dropped.
func (c *Client) MapStatus(raw string) courier.Status {
	if status, ok := statusTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return status
	}
	return courier.StatusException
}

// ============================================================================
// Conversion helpers: courier models -> API models
// ============================================================================

func (c *Client) clientInfo() ClientInfo {
	return ClientInfo{
		UserName:           c.config.Username,
		Password:           c.config.Password,
		Version:            "v1.0",
		AccountNumber:      c.config.AccountNumber,
		AccountPin:         c.config.AccountPin,
		AccountEntity:      c.config.AccountEntity,
		AccountCountryCode: c.config.AccountCountryCode,
	}
}

func (c *Client) buildCreateShipmentsRequest(req *courier.WaybillRequest) *CreateShipmentsRequest {
	now := time.Now()
	codAmount := 0.0
	if req.CashOnDelivery {
		codAmount = req.CODAmount
	}

	return &CreateShipmentsRequest{
		ClientInfo: c.clientInfo(),
		LabelInfo: LabelInfo{
			ReportID:   9201,
			ReportType: "URL",
		},
		Shipments: []Shipment{
			{
				Reference1:                req.Reference,
				Shipper:                   c.buildParty(req.Shipper, c.config.AccountNumber),
				Consignee:                 c.buildParty(req.Receiver, ""),
				ThirdParty:                Party{},
				ShippingDateTime:          formatAramexDate(now),
				DueDate:                   formatAramexDate(now.Add(3 * 24 * time.Hour)),
				Comments:                  req.Notes,
				PickupLocation:            "Reception",
				OperationsInstructions:    req.Notes,
				Details:                   c.buildShipmentDetails(req),
				ForeignHAWB:               req.Reference,
				TransportType:             0,
				ShippingChargePaymentType: "P",
				CustomsValueAmount:        Money{Value: req.Package.DeclaredValue, CurrencyCode: currencyOrDefault(req.Package.Currency)},
				CashOnDeliveryAmount:      Money{Value: codAmount, CurrencyCode: "SAR"},
				InsuranceAmount:           Money{CurrencyCode: "SAR"},
				CollectAmount:             Money{CurrencyCode: "SAR"},
				Services:                  determineServices(req),
				DeliveryInstructions:      req.Notes,
			},
		},
		Transaction: Transaction{Reference1: req.Reference},
	}
}

func (c *Client) buildParty(addr courier.Address, accountNumber string) Party {
	return Party{
		AccountNumber: accountNumber,
		PartyAddress: PartyAddress{
			Line1:               addr.AddressLine1,
			Line2:               addr.AddressLine2,
			City:                addr.City,
			StateOrProvinceCode: addr.State,
			PostCode:            addr.PostalCode,
			CountryCode:         addr.CountryCode,
		},
		Contact: Contact{
			PersonName:   addr.Name,
			CompanyName:  addr.Name,
			PhoneNumber1: addr.Phone,
			CellPhone:    addr.Phone,
			EmailAddress: addr.Email,
		},
	}
}

func (c *Client) buildShipmentDetails(req *courier.WaybillRequest) ShipmentDetails {
	description := req.Package.Description
	if description == "" {
		description = "General Goods"
	}
	codAmount := 0.0
	if req.CashOnDelivery {
		codAmount = req.CODAmount
	}

	return ShipmentDetails{
		Dimensions: Dimensions{
			Length: req.Package.Length,
			Width:  req.Package.Width,
			Height: req.Package.Height,
			Unit:   "CM",
		},
		ActualWeight:         Weight{Value: req.Package.Weight, Unit: "KG"},
		ChargeableWeight:     Weight{Value: req.Package.Weight, Unit: "KG"},
		DescriptionOfGoods:   description,
		GoodsOriginCountry:   req.Shipper.CountryCode,
		NumberOfPieces:       1,
		ProductGroup:         "EXP",
		ProductType:          determineProductType(req.ServiceType),
		PaymentType:          "P",
		CashOnDeliveryAmount: Money{Value: codAmount, CurrencyCode: "SAR"},
		CustomsValueAmount:   Money{Value: req.Package.DeclaredValue, CurrencyCode: currencyOrDefault(req.Package.Currency)},
	}
}

// determineProductType maps the service tier to an Aramex product type.
func determineProductType(serviceType courier.ServiceType) string {
	switch serviceType {
	case courier.ServiceExpress:
		return "EPX"
	case courier.ServiceSameDay:
		return "CDA"
	default:
		return "PDX"
	}
}

func determineServices(req *courier.WaybillRequest) string {
	if req.CashOnDelivery {
		return "CODS"
	}
	return ""
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "SAR"
	}
	return currency
}

// ============================================================================
// Conversion helpers: API models -> courier models
// ============================================================================

func (c *Client) mapTrackingEvent(u TrackingUpdate) courier.TrackingEvent {
	courierStatus := u.UpdateCode
	if courierStatus == "" {
		courierStatus = u.ProblemCode
	}
	if courierStatus == "" {
		courierStatus = "UNKNOWN"
	}

	description := u.UpdateDescription
	if description == "" {
		description = u.Comments
	}

	return courier.TrackingEvent{
		Status:        c.MapStatus(courierStatus),
		CourierStatus: courierStatus,
		Description:   description,
		Timestamp:     parseAramexDate(u.UpdateDateTime),
		Location:      u.UpdateLocation,
		Metadata: map[string]any{
			"problem_code":   u.ProblemCode,
			"gross_weight":   u.GrossWeight,
			"charged_weight": u.ChargedWeight,
		},
	}
}

var aramexDatePattern = regexp.MustCompile(`/Date\((\d+)\)/`)

// parseAramexDate parses the Aramex "/Date(ms)/" encoding, which embeds a
// millisecond Unix timestamp. Unparseable dates fall back to now.
func parseAramexDate(date string) time.Time {
	if date == "" {
		return time.Now()
	}

	if m := aramexDatePattern.FindStringSubmatch(date); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
		}
	}

	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t
	}
	return time.Now()
}

// formatAramexDate renders a time in the Aramex "/Date(ms)/" encoding.
func formatAramexDate(t time.Time) string {
	return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
}

// Ensure Client implements the courier contracts
var (
	_ courier.Courier   = (*Client)(nil)
	_ courier.Canceller = (*Client)(nil)
)
