package models

import "errors"

var (
	// ErrUnauthenticated: webhook signature missing or invalid.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrMisconfigured: a required secret or setting is absent.
	ErrMisconfigured = errors.New("server misconfigured")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	// ErrConflict: a unique key (e.g. wallet address) belongs to another record.
	ErrConflict       = errors.New("conflict")
	ErrMalformedEvent = errors.New("malformed event")

	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrFetchFailed      = errors.New("resource fetch failed")
	ErrExtractionFailed = errors.New("metrics extraction failed")
	ErrSettlementFailed = errors.New("settlement failed")
)
