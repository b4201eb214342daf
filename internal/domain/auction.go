package domain

import (
	"time"

	"dutch_auction/pkg/safe"
)

// FeePercent is the share of the final price kept by the platform owner.
const FeePercent = 10

// Auction is one descending-price listing.
// All monetary values are smallest currency units; timestamps are Unix seconds.
type Auction struct {
	ID            uint64 `json:"id"`
	Seller        string `json:"seller"`
	StartingPrice uint64 `json:"starting_price"`
	DiscountRate  uint64 `json:"discount_rate"` // price decrease per elapsed second
	Item          string `json:"item"`
	StartAt       int64  `json:"start_at"`
	EndsAt        int64  `json:"ends_at"`
	Stopped       bool   `json:"stopped"`
	FinalPrice    uint64 `json:"final_price"`
	Buyer         string `json:"buyer,omitempty"`
}

// Duration returns the listing window in seconds.
func (a *Auction) Duration() uint64 {
	return uint64(a.EndsAt - a.StartAt)
}

// IsExpired reports whether now is past the end of the window.
// The auction remains purchasable at exactly EndsAt.
func (a *Auction) IsExpired(now int64) bool {
	return now > a.EndsAt
}

// PriceAt returns the decayed price at the given Unix time.
// Times before StartAt are treated as StartAt. Callers check expiry first;
// past EndsAt the result floors at zero.
func (a *Auction) PriceAt(now int64) uint64 {
	if now <= a.StartAt {
		return a.StartingPrice
	}
	elapsed := uint64(now - a.StartAt)
	discount, ok := safe.Mul(a.DiscountRate, elapsed)
	if !ok || discount >= a.StartingPrice {
		return 0
	}
	return a.StartingPrice - discount
}

// ValidateTerms checks the creation invariant startingPrice >= discountRate * duration.
func ValidateTerms(startingPrice, discountRate, durationSec uint64) bool {
	maxDiscount, ok := safe.Mul(discountRate, durationSec)
	return ok && startingPrice >= maxDiscount
}

// Split is the fund distribution of a settled purchase.
type Split struct {
	Price        uint64 `json:"price"`
	Fee          uint64 `json:"fee"`
	SellerAmount uint64 `json:"seller_amount"`
	Refund       uint64 `json:"refund"`
}

// ComputeSplit divides a payment at the given price. payment must be >= price.
// payment == SellerAmount + Fee + Refund always holds.
func ComputeSplit(price, payment uint64) Split {
	fee, _ := safe.MulDiv(price, FeePercent, 100) // FeePercent < 100, never overflows
	return Split{
		Price:        price,
		Fee:          fee,
		SellerAmount: safe.MustSub(price, fee),
		Refund:       safe.MustSub(payment, price),
	}
}

// Clock supplies the current time to the ledger.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}
