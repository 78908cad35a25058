package dpdconnect

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnAuthenticate         func(ctx context.Context, username, password string) (string, error)
	OnCreateShipments      func(ctx context.Context, req *LabelRequest) (*LabelResponseList, error)
	OnCreateShipmentsAsync func(ctx context.Context, req *AsyncLabelRequest) ([]Job, error)
	OnListCountries        func(ctx context.Context) ([]Country, error)
	OnListProducts         func(ctx context.Context) ([]ShippingProduct, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// Authenticate returns a mock JWT token.
func (m *MockAPIClient) Authenticate(ctx context.Context, username, password string) (string, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return "", ErrAuthenticationFailed
	}

	if m.OnAuthenticate != nil {
		return m.OnAuthenticate(ctx, username, password)
	}

	if username == "" || password == "" {
		return "", ErrNoCredentials
	}
	return "mock-jwt-" + uuid.New().String()[:8], nil
}

// CreateShipments returns one mock label response per submitted shipment.
func (m *MockAPIClient) CreateShipments(ctx context.Context, req *LabelRequest) (*LabelResponseList, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Message: "Simulated API error"}
	}

	if m.OnCreateShipments != nil {
		return m.OnCreateShipments(ctx, req)
	}

	responses := make([]LabelResponse, 0, len(req.Shipments))
	for i, shipment := range req.Shipments {
		parcelNumbers := make([]string, 0, len(shipment.Parcels))
		for range shipment.Parcels {
			parcelNumbers = append(parcelNumbers, fmt.Sprintf("%012d", 905000000000+time.Now().UnixNano()%1000000+int64(i)))
		}

		responses = append(responses, LabelResponse{
			OrderID:            shipment.OrderID,
			ShipmentIdentifier: "mps-" + uuid.New().String()[:8],
			ParcelNumbers:      parcelNumbers,
			Label:              base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 mock label " + shipment.OrderID)),
		})
	}

	return &LabelResponseList{LabelResponses: responses}, nil
}

// CreateShipmentsAsync returns one mock job per submitted shipment.
func (m *MockAPIClient) CreateShipmentsAsync(ctx context.Context, req *AsyncLabelRequest) ([]Job, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Message: "Simulated API error"}
	}

	if m.OnCreateShipmentsAsync != nil {
		return m.OnCreateShipmentsAsync(ctx, req)
	}

	jobs := make([]Job, 0, len(req.Label.Shipments))
	for range req.Label.Shipments {
		jobs = append(jobs, Job{JobID: "job-" + uuid.New().String()[:8]})
	}
	return jobs, nil
}

// ListCountries returns a mock country table.
func (m *MockAPIClient) ListCountries(ctx context.Context) ([]Country, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Message: "Simulated API error"}
	}

	if m.OnListCountries != nil {
		return m.OnListCountries(ctx)
	}

	return []Country{
		{Country: "NL", SingleMarket: true},
		{Country: "BE", SingleMarket: true},
		{Country: "DE", SingleMarket: true},
		{Country: "FR", SingleMarket: true},
		{Country: "GB", SingleMarket: false},
		{Country: "CH", SingleMarket: false},
		{Country: "US", SingleMarket: false},
	}, nil
}

// ListProducts returns a mock shipping product catalogue.
func (m *MockAPIClient) ListProducts(ctx context.Context) ([]ShippingProduct, error) {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Message: "Simulated API error"}
	}

	if m.OnListProducts != nil {
		return m.OnListProducts(ctx)
	}

	return []ShippingProduct{
		{Code: "CL", Name: "DPD Classic", Type: ""},
		{Code: "RETURN", Name: "DPD Return", Type: ""},
		{Code: "FRESH", Name: "DPD Fresh", Type: "fresh"},
		{Code: "FREEZE", Name: "DPD Freeze", Type: "freeze"},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
