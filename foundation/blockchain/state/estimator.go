package state

import (
	"sort"
	"sync"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
)

// estimatorWindow is how many mined blocks the fee estimate looks back
// over.
const estimatorWindow = 25

// feeEstimator answers what fee rate a submitter should offer by watching
// the rates transactions carried when blocks confirmed them. The pool
// feeds it under its own lock, so the estimator never calls back into
// the pool.
type feeEstimator struct {
	mu      sync.Mutex
	tracked map[string]currency.FeeRate
	blocks  []currency.FeeRate
}

func newFeeEstimator() *feeEstimator {
	return &feeEstimator{
		tracked: make(map[string]currency.FeeRate),
	}
}

// ProcessTransaction implements the mempool.FeeEstimator interface. Only
// free standing transactions carry a usable signal, the pool flags the
// rest.
func (fe *feeEstimator) ProcessTransaction(entry *mempool.Entry, validEstimate bool) {
	if !validEstimate {
		return
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()

	fe.tracked[entry.TxID()] = currency.NewFeeRateFromPaid(entry.NormalizedModFee(), entry.Size())
}

// ProcessBlock implements the mempool.FeeEstimator interface. The median
// rate of the tracked transactions the block confirmed becomes one sample.
func (fe *feeEstimator) ProcessBlock(height uint64, mined []*mempool.Entry) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	var rates []currency.FeeRate
	for _, e := range mined {
		if rate, ok := fe.tracked[e.TxID()]; ok {
			rates = append(rates, rate)
			delete(fe.tracked, e.TxID())
		}
	}
	if len(rates) == 0 {
		return
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i].PerKB() < rates[j].PerKB() })

	fe.blocks = append(fe.blocks, rates[len(rates)/2])
	if len(fe.blocks) > estimatorWindow {
		fe.blocks = fe.blocks[len(fe.blocks)-estimatorWindow:]
	}
}

// RemoveTx implements the mempool.FeeEstimator interface.
func (fe *feeEstimator) RemoveTx(txid string) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	delete(fe.tracked, txid)
}

// estimate returns the median of the recent per block medians. A zero
// rate means there is no signal yet.
func (fe *feeEstimator) estimate() currency.FeeRate {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if len(fe.blocks) == 0 {
		return currency.FeeRate{}
	}

	sorted := make([]currency.FeeRate, len(fe.blocks))
	copy(sorted, fe.blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PerKB() < sorted[j].PerKB() })

	return sorted[len(sorted)/2]
}
