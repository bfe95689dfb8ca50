package core

import (
	"errors"
	"fmt"
)

var (
	ErrNoInstrument   = errors.New("instrument not loaded")
	ErrOrderActive    = errors.New("an order is already active")
	ErrNoActiveOrder  = errors.New("no active order")
	ErrEmptyFills     = errors.New("no fills reported for order")
	ErrHalted         = errors.New("trading halted")
	ErrNotEnoughFunds = errors.New("not enough funds to trade")
)

// ErrorKind classifies exchange errors so callers can branch on the
// failure class instead of raw vendor codes.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindRateLimit means back off and retry.
	KindRateLimit
	// KindPricePassed means the price crossed the requested trigger
	// before the exchange accepted it. Terminal for the current trail.
	KindPricePassed
	// KindNotFound means the order is unknown, usually propagation delay
	// right after placement.
	KindNotFound
	// KindAlreadyClosed means the order filled or was cancelled before
	// the request arrived.
	KindAlreadyClosed
)

// GatewayError wraps a coded exchange error with its failure class.
type GatewayError struct {
	Kind    ErrorKind
	Code    int64
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

func NewGatewayError(kind ErrorKind, code int64, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message}
}

func errorKind(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// IsRateLimit reports whether err is a transient rate-limit rejection.
func IsRateLimit(err error) bool { return errorKind(err) == KindRateLimit }

// IsPricePassed reports whether an amendment was rejected because the
// market already crossed the requested trigger.
func IsPricePassed(err error) bool { return errorKind(err) == KindPricePassed }

// IsNotFound reports whether the exchange does not know the order yet.
func IsNotFound(err error) bool { return errorKind(err) == KindNotFound }

// IsAlreadyClosed reports whether the order was filled or cancelled
// before the request was processed.
func IsAlreadyClosed(err error) bool { return errorKind(err) == KindAlreadyClosed }
