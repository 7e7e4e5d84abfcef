package aramex

import (
	"context"
)

// APIClient defines the interface for Aramex Shipping API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CreateShipments creates one or more shipments
	CreateShipments(ctx context.Context, req *CreateShipmentsRequest) (*CreateShipmentsResponse, error)

	// PrintLabel retrieves the label for an existing shipment
	PrintLabel(ctx context.Context, req *PrintLabelRequest) (*PrintLabelResponse, error)

	// TrackShipments retrieves tracking updates for a set of waybills
	TrackShipments(ctx context.Context, req *TrackShipmentsRequest) (*TrackShipmentsResponse, error)

	// CancelShipment cancels an existing shipment
	CancelShipment(ctx context.Context, req *CancelShipmentRequest) (*CancelShipmentResponse, error)
}

// ============================================================================
// API Request/Response Types (match Aramex Shipping API v2 JSON structure)
// ============================================================================

// ClientInfo carries the Aramex account credentials sent with every request.
type ClientInfo struct {
	UserName           string `json:"UserName"`
	Password           string `json:"Password"`
	Version            string `json:"Version"`
	AccountNumber      string `json:"AccountNumber"`
	AccountPin         string `json:"AccountPin"`
	AccountEntity      string `json:"AccountEntity"`
	AccountCountryCode string `json:"AccountCountryCode"`
}

// Transaction carries caller references echoed back by the API.
type Transaction struct {
	Reference1 string `json:"Reference1"`
	Reference2 string `json:"Reference2,omitempty"`
	Reference3 string `json:"Reference3,omitempty"`
	Reference4 string `json:"Reference4,omitempty"`
	Reference5 string `json:"Reference5,omitempty"`
}

// Notification is a business-level (code, message) pair. Aramex signals
// failure through HasErrors plus these, inside an otherwise-200 response.
type Notification struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// Money is an amount with its currency.
type Money struct {
	Value        float64 `json:"Value"`
	CurrencyCode string  `json:"CurrencyCode"`
}

// Weight is a weight value with its unit.
type Weight struct {
	Value float64 `json:"Value"`
	Unit  string  `json:"Unit"`
}

// Dimensions are the package dimensions.
type Dimensions struct {
	Length float64 `json:"Length"`
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
	Unit   string  `json:"Unit"`
}

// PartyAddress is the wire form of a shipper or consignee address.
type PartyAddress struct {
	Line1               string `json:"Line1"`
	Line2               string `json:"Line2,omitempty"`
	Line3               string `json:"Line3,omitempty"`
	City                string `json:"City"`
	StateOrProvinceCode string `json:"StateOrProvinceCode"`
	PostCode            string `json:"PostCode"`
	CountryCode         string `json:"CountryCode"`
}

// Contact is the wire form of a party's contact details.
type Contact struct {
	PersonName   string `json:"PersonName"`
	CompanyName  string `json:"CompanyName"`
	PhoneNumber1 string `json:"PhoneNumber1"`
	CellPhone    string `json:"CellPhone"`
	EmailAddress string `json:"EmailAddress,omitempty"`
}

// Party is a shipper, consignee, or third party on a shipment.
type Party struct {
	Reference1    string       `json:"Reference1,omitempty"`
	AccountNumber string       `json:"AccountNumber,omitempty"`
	PartyAddress  PartyAddress `json:"PartyAddress"`
	Contact       Contact      `json:"Contact"`
}

// ShipmentDetails describes the goods being shipped.
type ShipmentDetails struct {
	Dimensions           Dimensions `json:"Dimensions"`
	ActualWeight         Weight     `json:"ActualWeight"`
	ChargeableWeight     Weight     `json:"ChargeableWeight"`
	DescriptionOfGoods   string     `json:"DescriptionOfGoods"`
	GoodsOriginCountry   string     `json:"GoodsOriginCountry"`
	NumberOfPieces       int        `json:"NumberOfPieces"`
	ProductGroup         string     `json:"ProductGroup"` // "EXP" for express
	ProductType          string     `json:"ProductType"`  // "PDX", "EPX", "CDA"
	PaymentType          string     `json:"PaymentType"`  // "P" for prepaid
	Services             string     `json:"Services"`     // e.g., "CODS"
	CashOnDeliveryAmount Money      `json:"CashOnDeliveryAmount"`
	CustomsValueAmount   Money      `json:"CustomsValueAmount"`
}

// Shipment is the wire form of a shipment creation entry.
type Shipment struct {
	Reference1                string          `json:"Reference1"`
	Shipper                   Party           `json:"Shipper"`
	Consignee                 Party           `json:"Consignee"`
	ThirdParty                Party           `json:"ThirdParty"`
	ShippingDateTime          string          `json:"ShippingDateTime"` // "/Date(ms)/"
	DueDate                   string          `json:"DueDate"`          // "/Date(ms)/"
	Comments                  string          `json:"Comments"`
	PickupLocation            string          `json:"PickupLocation"`
	OperationsInstructions    string          `json:"OperationsInstructions"`
	Details                   ShipmentDetails `json:"Details"`
	ForeignHAWB               string          `json:"ForeignHAWB"`
	TransportType             int             `json:"TransportType"`
	ShippingChargePaymentType string          `json:"ShippingChargePaymentType"` // "P"
	CustomsValueAmount        Money           `json:"CustomsValueAmount"`
	CashOnDeliveryAmount      Money           `json:"CashOnDeliveryAmount"`
	InsuranceAmount           Money           `json:"InsuranceAmount"`
	CollectAmount             Money           `json:"CollectAmount"`
	Services                  string          `json:"Services"`
	DeliveryInstructions      string          `json:"DeliveryInstructions"`
}

// LabelInfo selects the label report produced at creation time.
type LabelInfo struct {
	ReportID   int    `json:"ReportID"`
	ReportType string `json:"ReportType"` // "URL"
}

// CreateShipmentsRequest is the payload for
// POST /Shipping/Service_1_0.svc/json/CreateShipments.
type CreateShipmentsRequest struct {
	ClientInfo  ClientInfo  `json:"ClientInfo"`
	LabelInfo   LabelInfo   `json:"LabelInfo"`
	Shipments   []Shipment  `json:"Shipments"`
	Transaction Transaction `json:"Transaction"`
}

// ShipmentLabel holds either a hosted label URL or inline file contents.
type ShipmentLabel struct {
	LabelURL          string `json:"LabelURL,omitempty"`
	LabelFileContents string `json:"LabelFileContents,omitempty"`
}

// ProcessedShipment is one created shipment in the response.
// ID is the Aramex-assigned waybill number.
type ProcessedShipment struct {
	ID            string         `json:"ID"`
	Reference1    string         `json:"Reference1,omitempty"`
	ForeignHAWB   string         `json:"ForeignHAWB,omitempty"`
	HasErrors     bool           `json:"HasErrors"`
	Notifications []Notification `json:"Notifications,omitempty"`
	ShipmentLabel *ShipmentLabel `json:"ShipmentLabel,omitempty"`
}

// CreateShipmentsResponse is the response to a shipment creation request.
type CreateShipmentsResponse struct {
	Transaction   Transaction         `json:"Transaction"`
	Notifications []Notification      `json:"Notifications,omitempty"`
	HasErrors     bool                `json:"HasErrors"`
	Shipments     []ProcessedShipment `json:"Shipments,omitempty"`
}

// PrintLabelRequest is the payload for
// POST /Shipping/Service_1_0.svc/json/PrintLabel.
type PrintLabelRequest struct {
	ClientInfo     ClientInfo  `json:"ClientInfo"`
	Transaction    Transaction `json:"Transaction"`
	ShipmentNumber string      `json:"ShipmentNumber"`
}

// PrintLabelResponse is the response to a label request.
type PrintLabelResponse struct {
	Transaction   Transaction    `json:"Transaction"`
	Notifications []Notification `json:"Notifications,omitempty"`
	HasErrors     bool           `json:"HasErrors"`
	ShipmentLabel *ShipmentLabel `json:"ShipmentLabel,omitempty"`
}

// TrackShipmentsRequest is the payload for
// POST /Tracking/Service_1_0.svc/json/TrackShipments.
type TrackShipmentsRequest struct {
	ClientInfo                ClientInfo  `json:"ClientInfo"`
	Transaction               Transaction `json:"Transaction"`
	Shipments                 []string    `json:"Shipments"`
	GetLastTrackingUpdateOnly bool        `json:"GetLastTrackingUpdateOnly"`
}

// TrackingUpdate is a single checkpoint for a waybill. UpdateDateTime is
// encoded as "/Date(ms)/" with a millisecond Unix timestamp.
type TrackingUpdate struct {
	WaybillNumber     string `json:"WaybillNumber"`
	UpdateCode        string `json:"UpdateCode"`
	UpdateDescription string `json:"UpdateDescription"`
	UpdateDateTime    string `json:"UpdateDateTime"`
	UpdateLocation    string `json:"UpdateLocation,omitempty"`
	Comments          string `json:"Comments,omitempty"`
	ProblemCode       string `json:"ProblemCode,omitempty"`
	GrossWeight       string `json:"GrossWeight,omitempty"`
	ChargedWeight     string `json:"ChargedWeight,omitempty"`
}

// TrackingResult pairs a waybill number with its updates, newest first.
type TrackingResult struct {
	Key   string           `json:"Key"`
	Value []TrackingUpdate `json:"Value"`
}

// TrackShipmentsResponse is the response to a tracking request.
type TrackShipmentsResponse struct {
	Transaction     Transaction      `json:"Transaction"`
	Notifications   []Notification   `json:"Notifications,omitempty"`
	HasErrors       bool             `json:"HasErrors"`
	TrackingResults []TrackingResult `json:"TrackingResults,omitempty"`
}

// CancelShipmentRequest is the payload for
// POST /Shipping/Service_1_0.svc/json/CancelShipment.
type CancelShipmentRequest struct {
	ClientInfo     ClientInfo  `json:"ClientInfo"`
	Transaction    Transaction `json:"Transaction"`
	ShipmentNumber string      `json:"ShipmentNumber"`
	Comments       string      `json:"Comments"`
}

// CancelShipmentResponse is the response to a cancellation request.
type CancelShipmentResponse struct {
	Transaction   Transaction    `json:"Transaction"`
	Notifications []Notification `json:"Notifications,omitempty"`
	HasErrors     bool           `json:"HasErrors"`
}
