// Package currency defines the two asset types of the ledger and the
// fixed-point arithmetic shared by consensus and policy code.
package currency

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Currency identifies one of the two asset types. Its value indexes
// the slots of an Amounts pair.
type Currency int

// The two asset types supported by the chain.
const (
	Cash Currency = 0
	Bond Currency = 1
)

// Types lists both asset types in index order for iteration.
var Types = [2]Currency{Cash, Bond}

// Other returns the opposite asset type.
func (c Currency) Other() Currency {
	if c == Cash {
		return Bond
	}
	return Cash
}

// Valid reports whether the value is one of the two asset types.
func (c Currency) Valid() bool {
	return c == Cash || c == Bond
}

// String implements the fmt.Stringer interface.
func (c Currency) String() string {
	switch c {
	case Cash:
		return "cash"
	case Bond:
		return "bond"
	}
	return fmt.Sprintf("currency(%d)", int(c))
}

// Parse converts the string representation of an asset type.
func Parse(s string) (Currency, error) {
	switch s {
	case "cash":
		return Cash, nil
	case "bond":
		return Bond, nil
	}
	return 0, fmt.Errorf("unknown currency %q", s)
}

// =============================================================================

// Amount is a quantity of cash or bond in base units.
type Amount int64

// Monetary constants. MaxMoney bounds any single amount and any
// per-currency total a transaction may carry.
const (
	Coin     Amount = 100_000_000
	MaxMoney Amount = 21_000_000 * Coin
)

// BaseFactor is the fixed-point denominator used by Scale and Descale.
const BaseFactor uint64 = 10_000_000_000

// Range reports whether an amount lies in the valid monetary range.
func Range(a Amount) bool {
	return a >= 0 && a <= MaxMoney
}

// Amounts holds one amount per asset type, indexed by Currency.
type Amounts [2]Amount

// String implements the fmt.Stringer interface.
func (a Amounts) String() string {
	return fmt.Sprintf("{cash:%d bond:%d}", a[Cash], a[Bond])
}

// =============================================================================

// Scale rescales an amount by factor/BaseFactor. The multiply runs at
// 256 bits so the product cannot overflow before the divide. Results
// beyond the int64 range saturate.
func Scale(amount Amount, factor uint64) Amount {
	mag := amount
	if mag < 0 {
		mag = -mag
	}

	z := new(uint256.Int).SetUint64(uint64(mag))
	z.Mul(z, new(uint256.Int).SetUint64(factor))
	z.Div(z, new(uint256.Int).SetUint64(BaseFactor))

	var out Amount
	if !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		out = math.MaxInt64
	} else {
		out = Amount(z.Uint64())
	}

	if amount < 0 {
		out = -out
	}
	return out
}

// Descale is the inverse of Scale. After the integer division the
// result is bumped until scaling it back covers the original amount, so
// for any amount >= 0 and factor > 0, Scale(Descale(a, f), f) >= a.
func Descale(amount Amount, factor uint64) Amount {
	if factor == 0 {
		return 0
	}

	mag := amount
	if mag < 0 {
		mag = -mag
	}

	z := new(uint256.Int).SetUint64(uint64(mag))
	z.Mul(z, new(uint256.Int).SetUint64(BaseFactor))
	z.Div(z, new(uint256.Int).SetUint64(factor))

	var out Amount
	if !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		out = math.MaxInt64
	} else {
		out = Amount(z.Uint64())
	}

	if amount < 0 {
		return -out
	}

	for Scale(out, factor) < amount {
		out++
	}
	return out
}

// SaturatingAdd sums two amounts, clamping at the int64 limits instead
// of wrapping.
func SaturatingAdd(a, b Amount) Amount {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
