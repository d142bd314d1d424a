package models

import "fmt"

// FetchErrorKind classifies market feed failures.
type FetchErrorKind string

const (
	FetchNetwork           FetchErrorKind = "NETWORK"
	FetchMalformedResponse FetchErrorKind = "MALFORMED_RESPONSE"
)

// FetchError is the only error type a market feed returns.
type FetchError struct {
	Kind  FetchErrorKind
	Cause error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("market feed %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("market feed %s", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error { return e.Cause }

// NetworkError wraps err as a NETWORK fetch failure.
func NetworkError(err error) *FetchError {
	return &FetchError{Kind: FetchNetwork, Cause: err}
}

// MalformedError wraps err as a MALFORMED_RESPONSE fetch failure.
func MalformedError(err error) *FetchError {
	return &FetchError{Kind: FetchMalformedResponse, Cause: err}
}
