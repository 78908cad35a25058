package dpdconnect

import (
	"errors"
	"fmt"
)

// Sentinel errors for common gateway scenarios.
var (
	// ErrNoCredentials indicates username or password is missing.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrAuthenticationFailed indicates the carrier rejected the credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMalformedResponse indicates the carrier returned an unparseable body.
	ErrMalformedResponse = errors.New("malformed carrier response")
)

// APIError represents an unstructured error from the DPD Connect API
// (non-2xx status, network-level faults surfaced by the carrier).
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dpdconnect error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("dpdconnect error: %s", e.Message)
}

// ValidationDetail is one field-level rejection within a batch.
// Path uses the carrier's flat addressing, e.g. "shipments[2].receiver.postalcode".
type ValidationDetail struct {
	Path    string `json:"dataPath"`
	Message string `json:"message"`
}

// ValidationError represents a structured shipment validation rejection.
// The carrier rejects the whole batch and reports one detail per
// offending field; details reference shipments by submission index.
type ValidationError struct {
	Details []ValidationDetail `json:"validation"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "dpdconnect validation error"
	}
	return fmt.Sprintf("dpdconnect validation error: %s for %s", e.Details[0].Message, e.Details[0].Path)
}

// AsValidation returns the structured validation error if err carries one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
