package mining

import (
	"math"
	"sort"

	"github.com/cashbond/blockchain/foundation/blockchain/conversion"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
)

// deferredPackage is a package whose conversion could not settle at the
// supply it was evaluated against. The demanded rate is fixed when the
// package parks; the ancestor aggregates keep shrinking as ancestors
// make it into the block.
type deferredPackage struct {
	entry *mempool.Entry
	rate  float64
	seq   int

	sizeWithAncestors      int64
	feesWithAncestors      currency.Amounts
	normFeesWithAncestors  currency.Amount
	sigOpCostWithAncestors int64

	done bool
}

func (d *deferredPackage) view() pkgView {
	return pkgView{
		entry:    d.entry,
		size:     d.sizeWithAncestors,
		fees:     d.feesWithAncestors,
		normFees: d.normFeesWithAncestors,
		sigOps:   d.sigOpCostWithAncestors,
	}
}

// conversionQueue holds the deferred packages consuming one currency.
// Draining walks the queue cheapest demanded rate first, so once a head
// cannot settle nothing behind it can either and the queue parks for
// the round.
type conversionQueue struct {
	items  []*deferredPackage
	seq    int
	parked bool
}

func (q *conversionQueue) push(item *deferredPackage) {
	item.seq = q.seq
	q.seq++
	q.items = append(q.items, item)
}

// prepare orders the queue for a drain round, cheapest demanded rate
// first with ties in arrival order, and reopens it.
func (q *conversionQueue) prepare() {
	sort.Slice(q.items, func(i, j int) bool {
		if q.items[i].rate != q.items[j].rate {
			return q.items[i].rate < q.items[j].rate
		}
		return q.items[i].seq < q.items[j].seq
	})
	q.parked = false
}

func (q *conversionQueue) park() { q.parked = true }

func (q *conversionQueue) reopen() { q.parked = false }

// sweep drops every consumed item after a drain round.
func (q *conversionQueue) sweep() {
	kept := q.items[:0]
	for _, item := range q.items {
		if !item.done {
			kept = append(kept, item)
		}
	}
	q.items = kept
}

// demandedRate classifies which currency the conversion consumes and
// prices the rate it demands at the specified supply. The raw rate the
// outputs imply is scaled up by the slippage a trade of that size
// suffers on the curve, so larger trades demand proportionally more
// favorable supplies before they can settle. A conversion that consumes
// nothing, or asks for more than the curve can ever pay, demands an
// infinite rate and parks until the block is done.
func demandedRate(supply currency.Amounts, conv *database.ConversionInfo) (currency.Currency, float64) {
	var inputType currency.Currency
	switch {
	case conv.Inputs[currency.Cash] > conv.MinOutputs[currency.Cash] && conv.Inputs[currency.Bond] < conv.MinOutputs[currency.Bond]:
		inputType = currency.Cash
	case conv.Inputs[currency.Bond] > conv.MinOutputs[currency.Bond] && conv.Inputs[currency.Cash] < conv.MinOutputs[currency.Cash]:
		inputType = currency.Bond
	default:
		return currency.Cash, math.Inf(1)
	}

	outputType := inputType.Other()
	inputAmount := conv.Inputs[inputType] - conv.MinOutputs[inputType]
	outputAmount := conv.MinOutputs[outputType] - conv.Inputs[outputType]

	linear := conversion.ConvertedAmount(supply, inputAmount, inputType, false)
	curve := conversion.OutputAmount(supply, inputAmount, inputType)
	if curve <= 0 {
		return inputType, math.Inf(1)
	}

	sizeAdjustment := float64(linear) / float64(curve)
	return inputType, sizeAdjustment * float64(outputAmount) / float64(inputAmount)
}
