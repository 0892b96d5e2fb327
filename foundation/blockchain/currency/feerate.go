package currency

import "fmt"

// FeeRate expresses a fee as normalized cash base units per 1000 bytes
// of transaction size.
type FeeRate struct {
	perKB Amount
}

// NewFeeRate constructs a fee rate from a per-kilobyte amount.
func NewFeeRate(perKB Amount) FeeRate {
	return FeeRate{perKB: perKB}
}

// NewFeeRateFromPaid constructs the fee rate implied by paying the
// specified fee for the specified transaction size.
func NewFeeRateFromPaid(paid Amount, size int64) FeeRate {
	if size <= 0 {
		return FeeRate{}
	}
	return FeeRate{perKB: Amount(int64(paid) * 1000 / size)}
}

// Fee returns the fee this rate charges for a transaction of the
// specified size. A positive rate never charges zero.
func (f FeeRate) Fee(size int64) Amount {
	fee := Amount(int64(f.perKB) * size / 1000)
	if fee == 0 && size != 0 && f.perKB > 0 {
		fee = 1
	}
	return fee
}

// PerKB returns the per-kilobyte amount backing the rate.
func (f FeeRate) PerKB() Amount {
	return f.perKB
}

// Add returns the sum of two fee rates.
func (f FeeRate) Add(g FeeRate) FeeRate {
	return FeeRate{perKB: SaturatingAdd(f.perKB, g.perKB)}
}

// Less reports whether f charges less per kilobyte than g.
func (f FeeRate) Less(g FeeRate) bool {
	return f.perKB < g.perKB
}

// String implements the fmt.Stringer interface.
func (f FeeRate) String() string {
	return fmt.Sprintf("%d/kB", f.perKB)
}
