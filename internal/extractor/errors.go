package extractor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingCredentials means image extraction was requested without an
	// OCR credential configured.
	ErrMissingCredentials = errors.New("ocr credentials are not configured")
	// ErrExtraction marks a provider or parser failure.
	ErrExtraction = errors.New("text extraction failed")
)

// BillingHint tells the operator how to clear a billing or permission error.
const BillingHint = "enable billing for the Google Cloud project at https://console.cloud.google.com/billing and make sure the Vision API is enabled for the service account"

// ValidationError is returned for an extension outside the supported set.
type ValidationError struct {
	Ext       string
	Supported []string
}

// NewValidationError builds the rejection for filename's extension.
func NewValidationError(filename string) *ValidationError {
	return &ValidationError{Ext: strings.ToLower(filepath.Ext(filename)), Supported: SupportedExtensions()}
}

func (e *ValidationError) Error() string {
	ext := e.Ext
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Sprintf("unsupported file type %s, supported: %s", ext, strings.Join(e.Supported, ", "))
}

// BillingError is a permission or billing rejection from the OCR provider.
type BillingError struct {
	Err error
}

func (e *BillingError) Error() string {
	return fmt.Sprintf("ocr provider rejected the request (%v): %s", e.Err, BillingHint)
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

// isBillingMessage reports whether a provider message points at billing.
func isBillingMessage(msg string) bool {
	return strings.Contains(msg, "BILLING_DISABLED") || strings.Contains(strings.ToLower(msg), "billing")
}
