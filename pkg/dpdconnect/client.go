// Package dpdconnect provides integration with the DPD Connect shipping API.
package dpdconnect

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "dpdconnect"

// Config holds DPD Connect configuration.
type Config struct {
	BaseURL  string
	Username string
	Password string
	UseMock  bool
}

// Client is the DPD Connect gateway client. It wraps the raw APIClient
// with logging and a cached country table.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer

	mu        sync.Mutex
	countries []Country
}

// New creates a new DPD Connect client.
func New(cfg Config, tokens TokenStore, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:  cfg.BaseURL,
			Username: cfg.Username,
			Password: cfg.Password,
			Tokens:   tokens,
			Timeout:  30 * time.Second,
		})
	}

	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// NewWithAPIClient creates a new DPD Connect client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// CreateShipments books a batch of shipments synchronously.
func (c *Client) CreateShipments(ctx context.Context, req *LabelRequest) (*LabelResponseList, error) {
	c.logger.Info("Creating DPD shipments",
		zap.Int("shipment_count", len(req.Shipments)),
	)

	resp, err := c.apiClient.CreateShipments(ctx, req)
	if err != nil {
		c.logger.Error("DPD Connect API error", zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// CreateShipmentsAsync submits a batch to the carrier job pipeline.
func (c *Client) CreateShipmentsAsync(ctx context.Context, req *AsyncLabelRequest) ([]Job, error) {
	c.logger.Info("Creating DPD shipments asynchronously",
		zap.Int("shipment_count", len(req.Label.Shipments)),
		zap.String("callback_uri", req.CallbackURI),
	)

	jobs, err := c.apiClient.CreateShipmentsAsync(ctx, req)
	if err != nil {
		c.logger.Error("DPD Connect API error", zap.Error(err))
		return nil, err
	}
	return jobs, nil
}

// Countries returns the carrier country table, fetching it once and
// caching for the lifetime of the client.
func (c *Client) Countries(ctx context.Context) ([]Country, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.countries != nil {
		return c.countries, nil
	}

	countries, err := c.apiClient.ListCountries(ctx)
	if err != nil {
		c.logger.Error("DPD Connect API error", zap.Error(err))
		return nil, err
	}
	c.countries = countries
	return countries, nil
}

// SingleMarket reports whether the given ISO-2 country is part of the
// carrier's single market. Unknown countries are not.
func (c *Client) SingleMarket(ctx context.Context, iso2 string) (bool, error) {
	countries, err := c.Countries(ctx)
	if err != nil {
		return false, err
	}

	iso2 = strings.ToUpper(iso2)
	for _, country := range countries {
		if country.Country == iso2 {
			return country.SingleMarket, nil
		}
	}
	return false, nil
}

// ShippingProducts returns the carrier shipping product catalogue.
func (c *Client) ShippingProducts(ctx context.Context) ([]ShippingProduct, error) {
	products, err := c.apiClient.ListProducts(ctx)
	if err != nil {
		c.logger.Error("DPD Connect API error", zap.Error(err))
		return nil, err
	}
	return products, nil
}
