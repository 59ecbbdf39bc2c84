package scanning

import (
	"context"
	"errors"
)

var (
	// ErrExtraction marks any failure to turn an image into receipt fields
	ErrExtraction = errors.New("receipt extraction failed")

	// ErrQuotaExceeded is returned when the provider account has run out of quota
	ErrQuotaExceeded = errors.New("vision provider quota exceeded")

	// ErrModelUnavailable is returned when the configured model does not exist or is not enabled
	ErrModelUnavailable = errors.New("vision model unavailable")
)

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Vendor string  `json:"vendor"`
	Date   string  `json:"date"`   // YYYY-MM-DD, empty when not found
	Amount float64 `json:"amount"` // dollars
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts metadata.
	// It makes a single attempt; callers decide how to degrade on error.
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
