// Package amount implements the checked fixed-point arithmetic used for every
// balance, stake, payout and fee in the ledger. Amounts are unsigned 64-bit
// integers in base units of the collateral asset (6 decimal places). No
// operation wraps: overflow and underflow are reported as errors.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by one base unit.
const Decimals = 6

// BpsDenominator is the basis-point scale: 10000 bps equals 100%.
const BpsDenominator = 10_000

var (
	ErrOverflow      = errors.New("arithmetic overflow")
	ErrUnderflow     = errors.New("arithmetic underflow")
	ErrDivideByZero  = errors.New("division by zero")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Amount is a non-negative fixed-point quantity in base units.
type Amount uint64

// Zero is the zero amount.
const Zero Amount = 0

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, fmt.Errorf("amount: %d + %d: %w", a, b, ErrOverflow)
	}
	return Amount(sum), nil
}

// Sub returns a-b or ErrUnderflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, fmt.Errorf("amount: %d - %d: %w", a, b, ErrUnderflow)
	}
	return Amount(diff), nil
}

// Mul returns a*b or ErrOverflow.
func (a Amount) Mul(b uint64) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), b)
	if hi != 0 {
		return 0, fmt.Errorf("amount: %d * %d: %w", a, b, ErrOverflow)
	}
	return Amount(lo), nil
}

// MulDiv returns floor(a*num/den). The product is held in 128 bits, so only a
// quotient that does not fit in 64 bits overflows.
func (a Amount) MulDiv(num, den uint64) (Amount, error) {
	if den == 0 {
		return 0, fmt.Errorf("amount: %d * %d / 0: %w", a, num, ErrDivideByZero)
	}
	hi, lo := bits.Mul64(uint64(a), num)
	if hi >= den {
		return 0, fmt.Errorf("amount: %d * %d / %d: %w", a, num, den, ErrOverflow)
	}
	quo, _ := bits.Div64(hi, lo, den)
	return Amount(quo), nil
}

// ApplyBps returns floor(a*bps/10000). Rounding down means the fee side of a
// split never collects more than its exact share.
func (a Amount) ApplyBps(bps uint16) (Amount, error) {
	return a.MulDiv(uint64(bps), BpsDenominator)
}

// Sum adds all values with overflow detection.
func Sum(values ...Amount) (Amount, error) {
	var total Amount
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Uint64 returns the raw base-unit value.
func (a Amount) Uint64() uint64 { return uint64(a) }

// Decimal returns a as a decimal number of whole asset units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -Decimals)
}

// String renders a with all six fractional digits, e.g. "195.000000".
func (a Amount) String() string {
	return a.Decimal().StringFixed(Decimals)
}

// Parse converts a decimal string of whole units ("100.5") into base units.
// More than six fractional digits, negative values and values beyond the
// 64-bit range are rejected.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, ErrInvalidAmount)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal number of whole units into base units.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("amount: %s is negative: %w", d, ErrInvalidAmount)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount: %s has more than %d decimals: %w", d, Decimals, ErrInvalidAmount)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount: %s: %w", d, ErrOverflow)
	}
	return Amount(bi.Uint64()), nil
}

// MarshalText renders the amount in whole units so JSON clients never lose
// precision on large values.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts the representation produced by MarshalText.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
