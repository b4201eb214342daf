package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ErrorKind is the closed set of ways a ledger operation can fail.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindInvalidStartingPrice
	KindNotFound
	KindAuctionStopped
	KindExpired
	KindInsufficientFunds
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindInvalidStartingPrice:
		return "INVALID_STARTING_PRICE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindAuctionStopped:
		return "AUCTION_STOPPED"
	case KindExpired:
		return "EXPIRED"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInvalidArgument is returned for malformed input (empty item, zero duration).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidStartingPrice is returned when startingPrice < discountRate * duration.
	ErrInvalidStartingPrice = errors.New("incorrect starting price")

	// ErrNotFound is returned for an unknown auction id.
	ErrNotFound = errors.New("not found")

	// ErrAuctionStopped is returned once an auction has been sold. Terminal.
	ErrAuctionStopped = errors.New("stopped!")

	// ErrExpired is returned when the auction window closed without a sale.
	ErrExpired = errors.New("ended!")

	// ErrInsufficientFunds is returned when the payment is below the current price.
	// The caller may retry with a larger payment.
	ErrInsufficientFunds = errors.New("not enough funds!")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidArgument:      ErrInvalidArgument,
	KindInvalidStartingPrice: ErrInvalidStartingPrice,
	KindNotFound:             ErrNotFound,
	KindAuctionStopped:       ErrAuctionStopped,
	KindExpired:              ErrExpired,
	KindInsufficientFunds:    ErrInsufficientFunds,
}

// AuctionError is the structured failure returned by every ledger operation.
type AuctionError struct {
	Kind      ErrorKind
	AuctionID uint64
	Price     uint64 // price in effect when the call failed, if known
	Payment   uint64 // attached payment for Buy
	Err       error  // optional cause
}

func (e *AuctionError) Error() string {
	msg := e.sentinel().Error()
	switch e.Kind {
	case KindInsufficientFunds:
		msg = fmt.Sprintf("auction %d: %s price %d, paid %d", e.AuctionID, msg, e.Price, e.Payment)
	case KindNotFound, KindAuctionStopped, KindExpired:
		msg = fmt.Sprintf("auction %d: %s", e.AuctionID, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel of the same kind.
func (e *AuctionError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *AuctionError) Unwrap() error {
	return e.Err
}

// IsRetriable reports true only for underpayment.
func (e *AuctionError) IsRetriable() bool {
	return e.Kind == KindInsufficientFunds
}

func (e *AuctionError) sentinel() error {
	if s, ok := kindSentinels[e.Kind]; ok {
		return s
	}
	return errors.New("unknown auction error")
}

// NewAuctionError creates an error of the given kind for an auction.
func NewAuctionError(kind ErrorKind, auctionID uint64) *AuctionError {
	return &AuctionError{Kind: kind, AuctionID: auctionID}
}

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ae *AuctionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInsufficientBalance is returned by the treasury when the payer cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAmountOverflow is returned when a credit would overflow an account.
	ErrAmountOverflow = errors.New("amount overflow")

	// ErrConservation is returned when payouts do not sum to the amount paid.
	ErrConservation = errors.New("payouts do not match payment")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
