package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal converts a smallest-unit amount into whole currency units,
// e.g. 1e14 wei with 18 decimals -> 0.0001.
func ToDecimal(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
}

// FormatAmount renders an amount in whole currency units.
func FormatAmount(amount uint64, decimals int32) string {
	return ToDecimal(amount, decimals).String()
}

// ParseAmount converts a whole-unit decimal string back to smallest units.
// Fractions finer than the currency precision are rejected.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, ErrInvalidArgument
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrInvalidArgument
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return bi.Uint64(), nil
}
