package app

import "errors"

var (
	// ErrValidation marks requests rejected before touching storage.
	ErrValidation = errors.New("invalid request")
	// ErrInvalidSignature indicates a payment proof that failed HMAC
	// verification. The ledger is never mutated on this path.
	ErrInvalidSignature = errors.New("payment signature verification failed")
	// ErrFineMismatch indicates the submitted total does not equal the sum
	// of the selected pending fines.
	ErrFineMismatch = errors.New("fine amount does not match pending fines")
	// ErrNoCover indicates the book exists but has no stored cover image.
	ErrNoCover = errors.New("no cover image for this book")
)
