package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means no positive-price comparables survived
	// filtering. Callers must surface "no estimate available", never a
	// zero-valued estimate.
	ErrInsufficientData = errors.New("insufficient sold-item data")

	// ErrNoResults means the source answered but matched nothing.
	ErrNoResults = errors.New("no sold items found")

	// ErrNotConfigured means the vendor credentials are absent. The
	// adapter reports an unhealthy status instead of crashing.
	ErrNotConfigured = errors.New("source is not configured")
)

// VendorError carries a non-success acknowledgement from a vendor API.
type VendorError struct {
	Vendor  string
	Code    string
	Message string
}

func (e *VendorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Vendor, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Vendor, e.Message)
}
