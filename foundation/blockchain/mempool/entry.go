package mempool

import (
	"math"

	"github.com/cashbond/blockchain/foundation/blockchain/conversion"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// Entry wraps a transaction sitting in the pool together with the
// bookkeeping the pool maintains for it: the per currency fees it
// declared, the fees adjusted by prioritisation, the cash normalized
// value of those fees at the cached supply, and the size/fee/count
// aggregates over its in-pool ancestors and descendants. The aggregates
// always include the entry's own values.
type Entry struct {
	tx             database.BlockTx
	txid           string
	size           int64
	fees           currency.Amounts
	time           int64
	height         uint64
	spendsCoinbase bool
	sigOpCost      int64
	conversion     *database.ConversionInfo

	modifiedFees     currency.Amounts
	normalizedFee    currency.Amount
	normalizedModFee currency.Amount

	countWithDescendants    uint64
	sizeWithDescendants     int64
	feesWithDescendants     currency.Amounts
	normFeesWithDescendants currency.Amount

	countWithAncestors     uint64
	sizeWithAncestors      int64
	feesWithAncestors      currency.Amounts
	normFeesWithAncestors  currency.Amount
	sigOpCostWithAncestors int64

	parents  map[string]struct{}
	children map[string]struct{}
}

// newEntry constructs an entry seeded with its own values in both
// aggregate directions and normalizes the fees against the supply.
func newEntry(tx database.BlockTx, fees currency.Amounts, time int64, height uint64, spendsCoinbase bool, sigOpCost int64, conv *database.ConversionInfo, supply currency.Amounts) *Entry {
	size := tx.Size()

	e := Entry{
		tx:             tx,
		txid:           tx.TxID(),
		size:           size,
		fees:           fees,
		time:           time,
		height:         height,
		spendsCoinbase: spendsCoinbase,
		sigOpCost:      sigOpCost,
		conversion:     conv,

		modifiedFees: fees,

		countWithDescendants: 1,
		sizeWithDescendants:  size,
		feesWithDescendants:  fees,

		countWithAncestors:     1,
		sizeWithAncestors:      size,
		feesWithAncestors:      fees,
		sigOpCostWithAncestors: sigOpCost,

		parents:  make(map[string]struct{}),
		children: make(map[string]struct{}),
	}

	e.updateNormalizedFee(supply)

	return &e
}

// updateNormalizedFee rederives every cash normalized fee on the entry
// from its per currency totals and the specified supply. The bond share
// is worth its converted cash amount at the current rate, so none of the
// normalized values can be maintained by simple increments once bond
// fees are in play.
func (e *Entry) updateNormalizedFee(supply currency.Amounts) {
	if supply[currency.Cash] == 0 && supply[currency.Bond] == 0 {
		return
	}

	var bondFeeValue currency.Amount
	if e.fees[currency.Bond] > 0 {
		bondFeeValue = conversion.ConvertedAmount(supply, e.fees[currency.Bond], currency.Bond, false)
	}

	e.normalizedFee = currency.SaturatingAdd(e.fees[currency.Cash], bondFeeValue)
	e.normalizedModFee = normalizeSlots(supply, e.modifiedFees, e.fees[currency.Bond], bondFeeValue)
	e.normFeesWithDescendants = normalizeSlots(supply, e.feesWithDescendants, e.fees[currency.Bond], bondFeeValue)
	e.normFeesWithAncestors = normalizeSlots(supply, e.feesWithAncestors, e.fees[currency.Bond], bondFeeValue)
}

// normalizeSlots folds a per currency fee pair into cash at the current
// rate, reusing the already converted base bond fee when the pair's bond
// slot still equals it.
func normalizeSlots(supply currency.Amounts, slots currency.Amounts, baseBondFee currency.Amount, baseBondValue currency.Amount) currency.Amount {
	if slots[currency.Bond] <= 0 {
		return slots[currency.Cash]
	}
	if slots[currency.Bond] == baseBondFee {
		return currency.SaturatingAdd(slots[currency.Cash], baseBondValue)
	}

	return currency.SaturatingAdd(slots[currency.Cash], conversion.ConvertedAmount(supply, slots[currency.Bond], currency.Bond, false))
}

// updateModifiedFee folds a prioritisation delta, denominated in cash,
// into the modified fee and both aggregates.
func (e *Entry) updateModifiedFee(delta currency.Amount, supply currency.Amounts) {
	e.modifiedFees[currency.Cash] = currency.SaturatingAdd(e.modifiedFees[currency.Cash], delta)
	e.feesWithDescendants[currency.Cash] = currency.SaturatingAdd(e.feesWithDescendants[currency.Cash], delta)
	e.feesWithAncestors[currency.Cash] = currency.SaturatingAdd(e.feesWithAncestors[currency.Cash], delta)
	e.updateNormalizedFee(supply)
}

// updateDescendantState adjusts the with-descendants aggregates.
func (e *Entry) updateDescendantState(sizeDelta int64, feeDelta currency.Amounts, countDelta int64, supply currency.Amounts) {
	e.sizeWithDescendants = saturatingAddInt64(e.sizeWithDescendants, sizeDelta)
	for _, c := range currency.Types {
		e.feesWithDescendants[c] = currency.SaturatingAdd(e.feesWithDescendants[c], feeDelta[c])
	}
	e.countWithDescendants = addCount(e.countWithDescendants, countDelta)

	if e.sizeWithDescendants <= 0 {
		panic("mempool: descendant size aggregate went non-positive")
	}
	if e.countWithDescendants == 0 {
		panic("mempool: descendant count aggregate went to zero")
	}

	e.updateNormalizedFee(supply)
}

// updateAncestorState adjusts the with-ancestors aggregates.
func (e *Entry) updateAncestorState(sizeDelta int64, feeDelta currency.Amounts, countDelta int64, sigOpsDelta int64, supply currency.Amounts) {
	e.sizeWithAncestors = saturatingAddInt64(e.sizeWithAncestors, sizeDelta)
	for _, c := range currency.Types {
		e.feesWithAncestors[c] = currency.SaturatingAdd(e.feesWithAncestors[c], feeDelta[c])
	}
	e.countWithAncestors = addCount(e.countWithAncestors, countDelta)
	e.sigOpCostWithAncestors = saturatingAddInt64(e.sigOpCostWithAncestors, sigOpsDelta)

	if e.sizeWithAncestors <= 0 {
		panic("mempool: ancestor size aggregate went non-positive")
	}
	if e.countWithAncestors == 0 {
		panic("mempool: ancestor count aggregate went to zero")
	}
	if e.sigOpCostWithAncestors < 0 {
		panic("mempool: ancestor sigop aggregate went negative")
	}

	e.updateNormalizedFee(supply)
}

// clone copies the entry for use outside the pool lock. The transaction
// and cached conversion details are shared since they are never mutated.
func (e *Entry) clone() *Entry {
	c := *e

	c.parents = make(map[string]struct{}, len(e.parents))
	for id := range e.parents {
		c.parents[id] = struct{}{}
	}
	c.children = make(map[string]struct{}, len(e.children))
	for id := range e.children {
		c.children[id] = struct{}{}
	}

	return &c
}

// =============================================================================
// Accessors. The pool hands entries to the block assembler and to tests,
// which read them through this surface.

// Tx returns the wrapped transaction.
func (e *Entry) Tx() database.BlockTx { return e.tx }

// TxID returns the cached transaction id.
func (e *Entry) TxID() string { return e.txid }

// Size returns the serialized size of the transaction.
func (e *Entry) Size() int64 { return e.size }

// SigOpCost returns the signature operation cost of the transaction.
func (e *Entry) SigOpCost() int64 { return e.sigOpCost }

// Time returns the unix time the entry was admitted.
func (e *Entry) Time() int64 { return e.time }

// Height returns the chain height at admission.
func (e *Entry) Height() uint64 { return e.height }

// SpendsCoinbase reports whether any input spends a coinbase output.
func (e *Entry) SpendsCoinbase() bool { return e.spendsCoinbase }

// Conversion returns the cached conversion details, or nil for a plain
// transaction. Callers must treat the result as read only.
func (e *Entry) Conversion() *database.ConversionInfo { return e.conversion }

// Fees returns the declared per currency fees.
func (e *Entry) Fees() currency.Amounts { return e.fees }

// ModifiedFees returns the fees adjusted by prioritisation deltas.
func (e *Entry) ModifiedFees() currency.Amounts { return e.modifiedFees }

// NormalizedFee returns the declared fees folded into cash.
func (e *Entry) NormalizedFee() currency.Amount { return e.normalizedFee }

// NormalizedModFee returns the modified fees folded into cash.
func (e *Entry) NormalizedModFee() currency.Amount { return e.normalizedModFee }

// CountWithDescendants returns the number of pool transactions in the
// entry's descendant set, itself included.
func (e *Entry) CountWithDescendants() uint64 { return e.countWithDescendants }

// SizeWithDescendants returns the total size of the descendant set.
func (e *Entry) SizeWithDescendants() int64 { return e.sizeWithDescendants }

// FeesWithDescendants returns the per currency modified fees of the
// descendant set.
func (e *Entry) FeesWithDescendants() currency.Amounts { return e.feesWithDescendants }

// NormFeesWithDescendants returns the descendant set fees folded into cash.
func (e *Entry) NormFeesWithDescendants() currency.Amount { return e.normFeesWithDescendants }

// CountWithAncestors returns the number of pool transactions in the
// entry's ancestor set, itself included.
func (e *Entry) CountWithAncestors() uint64 { return e.countWithAncestors }

// SizeWithAncestors returns the total size of the ancestor set.
func (e *Entry) SizeWithAncestors() int64 { return e.sizeWithAncestors }

// FeesWithAncestors returns the per currency modified fees of the
// ancestor set.
func (e *Entry) FeesWithAncestors() currency.Amounts { return e.feesWithAncestors }

// NormFeesWithAncestors returns the ancestor set fees folded into cash.
func (e *Entry) NormFeesWithAncestors() currency.Amount { return e.normFeesWithAncestors }

// SigOpCostWithAncestors returns the signature cost of the ancestor set.
func (e *Entry) SigOpCostWithAncestors() int64 { return e.sigOpCostWithAncestors }

// ParentIDs returns the ids of the direct in-pool parents.
func (e *Entry) ParentIDs() []string { return keys(e.parents) }

// ChildIDs returns the ids of the direct in-pool children.
func (e *Entry) ChildIDs() []string { return keys(e.children) }

// =============================================================================

func keys(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func saturatingAddInt64(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// addCount applies a signed delta to an unsigned counter, clamping at
// zero instead of wrapping.
func addCount(count uint64, delta int64) uint64 {
	if delta >= 0 {
		if count > math.MaxUint64-uint64(delta) {
			return math.MaxUint64
		}
		return count + uint64(delta)
	}

	d := uint64(-(delta + 1)) + 1
	if d >= count {
		return 0
	}
	return count - d
}
