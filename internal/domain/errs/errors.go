// Package errs holds the error taxonomy shared by the acquisition pipeline.
//
// Callers match categories with errors.Is; the concrete message carries
// the detail.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks malformed or empty inputs (proxy list, universe snapshot). Never retried.
	ErrConfig = errors.New("config error")

	// ErrPoolExhausted is returned when no live proxy is left to route a request.
	ErrPoolExhausted = errors.New("proxy pool exhausted")

	// ErrTransientFetch marks a single failed request (timeout, non-2xx, empty page, parse failure).
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrPermanentSymbol marks a symbol that hit its consecutive-failure ceiling.
	ErrPermanentSymbol = errors.New("permanent symbol failure")

	// ErrDataIntegrity marks input that cannot be computed on (e.g. a missing interpolation axis value).
	ErrDataIntegrity = errors.New("data integrity error")
)

// Configf wraps ErrConfig with a formatted detail.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Transientf wraps ErrTransientFetch with a formatted detail.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransientFetch, fmt.Sprintf(format, args...))
}

// Integrityf wraps ErrDataIntegrity with a formatted detail.
func Integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}

// SymbolFailure reports a symbol whose fetch was abandoned after Attempts
// consecutive failures. Last is the final transient error observed.
type SymbolFailure struct {
	Symbol   string
	Attempts int
	Last     error
}

func (e *SymbolFailure) Error() string {
	return fmt.Sprintf("%s: gave up on %s after %d attempts: %v", ErrPermanentSymbol, e.Symbol, e.Attempts, e.Last)
}

// Unwrap exposes both the category and the last cause.
func (e *SymbolFailure) Unwrap() []error {
	return []error{ErrPermanentSymbol, e.Last}
}
