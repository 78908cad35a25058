package dpdconnect

import (
	"context"
)

// APIClient defines the interface for DPD Connect API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// Authenticate exchanges username/password credentials for a JWT token
	Authenticate(ctx context.Context, username, password string) (string, error)

	// CreateShipments books a batch of shipments synchronously and
	// returns one label response per accepted shipment
	CreateShipments(ctx context.Context, req *LabelRequest) (*LabelResponseList, error)

	// CreateShipmentsAsync hands a batch of shipments to the carrier's
	// job pipeline; results arrive later on the callback URI
	CreateShipmentsAsync(ctx context.Context, req *AsyncLabelRequest) ([]Job, error)

	// ListCountries fetches the carrier country table
	ListCountries(ctx context.Context) ([]Country, error)

	// ListProducts fetches the carrier shipping product catalogue
	ListProducts(ctx context.Context) ([]ShippingProduct, error)
}

// ============================================================================
// API Request/Response Types (match DPD Connect REST structure)
// ============================================================================

// PrintOptions controls how the carrier renders labels.
type PrintOptions struct {
	PrinterLanguage  string `json:"printerLanguage"` // "PDF"
	PaperFormat      string `json:"paperFormat"`     // "A4", "A6"
	VerticalOffset   int    `json:"verticalOffset"`
	HorizontalOffset int    `json:"horizontalOffset"`
}

// LabelRequest represents a synchronous shipment booking request.
// POST /shipments endpoint
type LabelRequest struct {
	PrintOptions PrintOptions `json:"printOptions"`
	CreateLabel  bool         `json:"createLabel"`
	Shipments    []Shipment   `json:"shipments"`
}

// AsyncLabelRequest wraps a LabelRequest for the async job pipeline.
// POST /shipments/async endpoint
type AsyncLabelRequest struct {
	CallbackURI string       `json:"callbackURI"`
	Label       LabelRequest `json:"label"`
}

// Shipment is one carrier-ready shipment payload.
type Shipment struct {
	OrderID       string         `json:"orderId"`
	SendingDepot  string         `json:"sendingDepot"`
	Sender        Party          `json:"sender"`
	Receiver      Party          `json:"receiver"`
	Product       ProductInfo    `json:"product"`
	Notifications []Notification `json:"notifications,omitempty"`
	Parcels       []Parcel       `json:"parcels"`
	Customs       *Customs       `json:"customs,omitempty"`
}

// Party represents sender or receiver address information.
type Party struct {
	Name              string `json:"name1"`
	Street            string `json:"street"`
	Country           string `json:"country"` // ISO 3166-1 alpha-2
	PostalCode        string `json:"postalcode"`
	City              string `json:"city"`
	Phone             string `json:"phoneNumber,omitempty"`
	Email             string `json:"email,omitempty"`
	CommercialAddress bool   `json:"commercialAddress"`
	VATNumber         string `json:"vatnumber,omitempty"`
	EORINumber        string `json:"eorinumber,omitempty"`
	SPRN              string `json:"sprn,omitempty"`
}

// ProductInfo carries the carrier product code and service flags.
type ProductInfo struct {
	ProductCode      string `json:"productCode"` // CL, RETURN, FRESH, FREEZE
	SaturdayDelivery bool   `json:"saturdayDelivery"`
	HomeDelivery     bool   `json:"homeDelivery"`
	AgeCheck         bool   `json:"ageCheck"`
	ParcelShopID     string `json:"parcelshopId,omitempty"`
}

// Notification is a delivery notification subscription.
type Notification struct {
	Subject string `json:"subject"` // "predict", "parcelshop"
	Channel string `json:"channel"` // "EMAIL"
	Value   string `json:"value"`
}

// Parcel is one physical package within a shipment.
// Weight is expressed in the carrier integer unit (1 unit = 10 g).
type Parcel struct {
	CustomerReferences  []string `json:"customerReferences"`
	Weight              int      `json:"weight"`
	Returns             bool     `json:"returns,omitempty"`
	GoodsExpirationDate int      `json:"goodsExpirationDate,omitempty"` // yyyymmdd
	GoodsDescription    string   `json:"goodsDescription,omitempty"`
}

// Customs is the customs declaration block for cross-border shipments.
type Customs struct {
	Terms         string        `json:"terms"` // "DAP"
	TotalCurrency string        `json:"totalCurrency"`
	TotalAmount   float64       `json:"totalAmount"`
	Lines         []CustomsLine `json:"customsLines"`
	Consignee     Party         `json:"consignee"`
	Consignor     Party         `json:"consignor"`
}

// CustomsLine is one declared-goods entry.
type CustomsLine struct {
	Description          string  `json:"description"` // max 35 chars
	HarmonizedSystemCode string  `json:"harmonizedSystemCode"`
	OriginCountry        string  `json:"originCountry"`
	Quantity             int     `json:"quantity"`
	NetWeight            int     `json:"netWeight"`
	GrossWeight          int     `json:"grossWeight"`
	TotalAmount          float64 `json:"totalAmount"`
}

// LabelResponseList is the synchronous booking response.
type LabelResponseList struct {
	LabelResponses []LabelResponse `json:"labelResponses"`
}

// LabelResponse is the result for one booked shipment.
type LabelResponse struct {
	OrderID            string   `json:"orderId"`
	ShipmentIdentifier string   `json:"shipmentIdentifier"`
	ParcelNumbers      []string `json:"parcelNumbers"`
	Label              string   `json:"label"` // base64 PDF
}

// Job is one entry of the async booking response. Jobs are returned in
// the same order as the submitted shipments.
type Job struct {
	JobID string `json:"jobid"`
}

// JobState is a carrier job status as delivered on the callback.
type JobState struct {
	JobID   string `json:"jobid"`
	Status  string `json:"status"` // "success", "failed"
	Message string `json:"message,omitempty"`
}

// Country is one entry of the carrier country table.
type Country struct {
	Country      string `json:"country"` // ISO 3166-1 alpha-2, uppercase
	SingleMarket bool   `json:"singleMarket"`
}

// ShippingProduct is one entry of the carrier product catalogue.
type ShippingProduct struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Type        string `json:"type"` // "", "fresh", "freeze"
	Description string `json:"description,omitempty"`
}

// tokenResponse is the authentication response.
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}
