// Package common provides shared utilities and types used across the application.
package common

import "errors"

// Common application errors.
var (
	// ErrNotFound marks lookups that matched no record.
	ErrNotFound = errors.New("not found")

	// ErrNoInvoiceItems is returned when a submitted batch has nothing to match.
	ErrNoInvoiceItems = errors.New("no invoice line items to match")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)
