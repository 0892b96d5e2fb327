package state

import (
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
)

// ExpireTransactions removes every pool transaction that was submitted
// before the cutoff and returns how many were dropped.
func (s *State) ExpireTransactions(cutoff time.Time) int {
	return s.mempool.Expire(cutoff.Unix())
}

// TrimTransactionPool evicts the weakest pool entries until the pool fits
// the configured byte budget again. With no explicit budget the pool
// enforces its own on every admit and there is nothing to do.
func (s *State) TrimTransactionPool() {
	if s.poolMaxBytes > 0 {
		s.mempool.TrimToSize(s.poolMaxBytes)
	}
}

// RetrievePoolMinFee returns the fee rate a transaction currently has to
// beat to enter the pool.
func (s *State) RetrievePoolMinFee() currency.FeeRate {
	return s.mempool.GetMinFee()
}

// RetrieveFeeEstimate returns the fee rate recent blocks confirmed at.
func (s *State) RetrieveFeeEstimate() currency.FeeRate {
	return s.estimator.estimate()
}

// RetrievePoolBytes returns the serialized size of everything in the pool.
func (s *State) RetrievePoolBytes() int64 {
	return s.mempool.TotalTxBytes()
}

// RetrievePoolFees returns the fees the pool would pay if it were mined
// in full.
func (s *State) RetrievePoolFees() currency.Amounts {
	return s.mempool.TotalFees()
}
