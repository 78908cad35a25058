package dpdconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	username   string
	password   string
	tokens     TokenStore
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Tokens   TokenStore // nil falls back to an in-memory store
	Timeout  time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}

	return &HTTPAPIClient{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		tokens:   tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Authenticate exchanges credentials for a JWT token and persists it
// through the token store.
func (c *HTTPAPIClient) Authenticate(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrNoCredentials
	}

	body := map[string]string{
		"username": username,
		"password": password,
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/login", body, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrAuthenticationFailed
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.parseError(resp)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decoding token response: %v", ErrMalformedResponse, err)
	}
	if tok.AccessToken == "" {
		return "", ErrAuthenticationFailed
	}

	if err := c.tokens.Set(ctx, tok.AccessToken); err != nil {
		return "", fmt.Errorf("persisting token: %w", err)
	}
	return tok.AccessToken, nil
}

// CreateShipments books shipments synchronously.
// POST /shipments
func (c *HTTPAPIClient) CreateShipments(ctx context.Context, req *LabelRequest) (*LabelResponseList, error) {
	resp, err := c.doAuthenticated(ctx, http.MethodPost, "/shipments", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var result LabelResponseList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding shipment response: %v", ErrMalformedResponse, err)
	}
	return &result, nil
}

// CreateShipmentsAsync hands shipments to the carrier job pipeline.
// POST /shipments/async. Jobs come back positionally aligned with the
// submitted shipments.
func (c *HTTPAPIClient) CreateShipmentsAsync(ctx context.Context, req *AsyncLabelRequest) ([]Job, error) {
	resp, err := c.doAuthenticated(ctx, http.MethodPost, "/shipments/async", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, c.parseError(resp)
	}

	var jobs []Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("%w: decoding async response: %v", ErrMalformedResponse, err)
	}
	return jobs, nil
}

// ListCountries fetches the carrier country table.
// GET /countries
func (c *HTTPAPIClient) ListCountries(ctx context.Context) ([]Country, error) {
	resp, err := c.doAuthenticated(ctx, http.MethodGet, "/countries", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var countries []Country
	if err := json.NewDecoder(resp.Body).Decode(&countries); err != nil {
		return nil, fmt.Errorf("%w: decoding countries: %v", ErrMalformedResponse, err)
	}
	return countries, nil
}

// ListProducts fetches the carrier shipping product catalogue.
// GET /products
func (c *HTTPAPIClient) ListProducts(ctx context.Context) ([]ShippingProduct, error) {
	resp, err := c.doAuthenticated(ctx, http.MethodGet, "/products", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var products []ShippingProduct
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("%w: decoding products: %v", ErrMalformedResponse, err)
	}
	return products, nil
}

// doAuthenticated performs a request with a bearer token, authenticating
// first when no token is stored and re-authenticating once on a 401.
// A refreshed token reaches the token store before the retry, so callers
// observe the refresh only through the store.
func (c *HTTPAPIClient) doAuthenticated(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	if token == "" {
		if token, err = c.Authenticate(ctx, c.username, c.password); err != nil {
			return nil, err
		}
	}

	resp, err := c.doRequest(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if token, err = c.Authenticate(ctx, c.username, c.password); err != nil {
			return nil, err
		}
		return c.doRequest(ctx, method, path, body, token)
	}

	return resp, nil
}

// doRequest performs an HTTP request with proper headers.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, body interface{}, token string) (*http.Response, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "storelink-dpdbridge/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response. Structured
// validation payloads become *ValidationError; everything else becomes a
// generic *APIError so callers can treat it as a batch-level fault.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var ve ValidationError
	if err := json.Unmarshal(body, &ve); err == nil && len(ve.Details) > 0 {
		return &ve
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return &apiErr
	}

	return &APIError{
		Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Message:    string(body),
		StatusCode: resp.StatusCode,
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
