// Package safe provides overflow-checked arithmetic for smallest-unit amounts.
//
// The checked variants report overflow through the second return value.
// The Must variants panic instead and are meant for paths where the
// operands were already validated.
package safe

import (
	"fmt"
	"math/bits"
)

// Add returns a+b and false if the sum overflows.
func Add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// Sub returns a-b and false if b > a.
func Sub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// Mul returns a*b and false if the product overflows.
func Mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// MulDiv returns floor(a*b/d) computed on the full 128-bit product.
// It reports false if d is zero or the quotient does not fit in 64 bits.
func MulDiv(a, b, d uint64) (uint64, bool) {
	if d == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, d)
	return quo, true
}

// MustAdd is Add that panics on overflow.
func MustAdd(a, b uint64) uint64 {
	v, ok := Add(a, b)
	if !ok {
		panic(fmt.Sprintf("SAFE_ADD_OVERFLOW: %d + %d", a, b))
	}
	return v
}

// MustSub is Sub that panics on underflow.
func MustSub(a, b uint64) uint64 {
	v, ok := Sub(a, b)
	if !ok {
		panic(fmt.Sprintf("SAFE_SUB_UNDERFLOW: %d - %d", a, b))
	}
	return v
}
