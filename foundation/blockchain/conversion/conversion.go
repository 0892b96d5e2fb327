// Package conversion implements the bonding-curve math that prices
// conversions between the two asset types. The ledger maintains the
// invariant cash^2 + bond^2 = K^2 across every settled conversion: a
// conversion may never increase K^2 beyond its pre-conversion value,
// and settlement adds a non-negative remainder that restores equality
// exactly. All settlement math is integer math; squares and products
// run at 256 bits.
package conversion

import (
	"errors"
	"math"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/holiman/uint256"
)

// ErrInvalid is returned by Apply when a conversion would increase the
// supply invariant beyond its pre-conversion value.
var ErrInvalid = errors.New("conversion would increase the supply invariant")

// OutputAmount returns how much of the opposite asset type a conversion
// spending inputAmount would produce against the current supply.
// Returns 0 when the input exceeds the available supply.
func OutputAmount(supply currency.Amounts, inputAmount currency.Amount, inputType currency.Currency) currency.Amount {
	if inputAmount > supply[inputType] {
		return 0
	}

	invariantSq := invariantSq(supply)
	newInputSq := square(supply[inputType] - inputAmount)
	if newInputSq.Cmp(invariantSq) > 0 {
		return 0
	}

	newOutput := new(uint256.Int).Sub(invariantSq, newInputSq)
	newOutput.Sqrt(newOutput)
	return toAmount(newOutput) - supply[inputType.Other()]
}

// InputAmount returns how much of the opposite asset type a conversion
// must spend to produce outputAmount against the current supply.
// Returns 0 when the requested output cannot be produced at any price.
func InputAmount(supply currency.Amounts, outputAmount currency.Amount, outputType currency.Currency) currency.Amount {
	invariantSq := invariantSq(supply)
	newOutputSq := square(supply[outputType] + outputAmount)
	if newOutputSq.Cmp(invariantSq) > 0 {
		return 0
	}

	newInput := new(uint256.Int).Sub(invariantSq, newOutputSq)
	newInput.Sqrt(newInput)
	return supply[outputType.Other()] - toAmount(newInput)
}

// ConvertedAmount values an amount of one asset type in units of the
// other at the marginal conversion rate, optionally rounding up by one
// base unit. When either side of the supply is empty the marginal rate
// is undefined and the value falls back to the curve itself.
func ConvertedAmount(supply currency.Amounts, amount currency.Amount, amountType currency.Currency, roundUp bool) currency.Amount {
	switch {
	case supply[amountType.Other()] == 0:
		return OutputAmount(supply, amount, amountType)

	case supply[amountType] == 0:
		return InputAmount(supply, amount, amountType)

	default:
		mag := amount
		if mag < 0 {
			mag = -mag
		}
		z := new(uint256.Int).SetUint64(uint64(mag))
		z.Mul(z, new(uint256.Int).SetUint64(uint64(supply[amountType])))
		z.Div(z, new(uint256.Int).SetUint64(uint64(supply[amountType.Other()])))

		converted := toAmount(z)
		if amount < 0 {
			converted = -converted
		}
		if roundUp {
			converted++
		}
		return converted
	}
}

// Apply is the single consensus gate for conversions. It verifies that
// settling the declared inputs and minimum outputs does not increase
// the supply invariant, solves for the exact remainder on remainderType
// that restores the invariant, and mutates supply in place by the
// deltas plus the remainder. On failure the supply is left untouched.
func Apply(supply *currency.Amounts, inputs, minOutputs currency.Amounts, remainderType currency.Currency) (currency.Amount, error) {
	invariantSqIn := invariantSq(*supply)

	cashOut := supply[currency.Cash] + minOutputs[currency.Cash] - inputs[currency.Cash]
	bondOut := supply[currency.Bond] + minOutputs[currency.Bond] - inputs[currency.Bond]

	invariantSqMinOut := new(uint256.Int).Add(square(cashOut), square(bondOut))
	if invariantSqMinOut.Cmp(invariantSqIn) > 0 {
		return 0, ErrInvalid
	}

	// remainder = sqrt(K^2 - (B + dB)^2) - (A + dA), solved on the
	// remainder side so the post-state lands back on the curve.
	otherOut := cashOut
	remainderOut := bondOut
	if remainderType == currency.Cash {
		otherOut, remainderOut = bondOut, cashOut
	}

	z := new(uint256.Int).Sub(invariantSqIn, square(otherOut))
	z.Sqrt(z)
	remainder := toAmount(z) - remainderOut

	supply[currency.Cash] += minOutputs[currency.Cash] - inputs[currency.Cash]
	supply[currency.Bond] += minOutputs[currency.Bond] - inputs[currency.Bond]
	supply[remainderType] += remainder
	return remainder, nil
}

// =============================================================================

func square(a currency.Amount) *uint256.Int {
	mag := int64(a)
	if mag < 0 {
		mag = -mag
	}
	z := new(uint256.Int).SetUint64(uint64(mag))
	return z.Mul(z, z)
}

func invariantSq(supply currency.Amounts) *uint256.Int {
	return new(uint256.Int).Add(square(supply[currency.Cash]), square(supply[currency.Bond]))
}

func toAmount(z *uint256.Int) currency.Amount {
	if !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		return math.MaxInt64
	}
	return currency.Amount(z.Uint64())
}
