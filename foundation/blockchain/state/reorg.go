package state

import (
	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// RevertLatestBlock removes the latest block from the chain and returns its
// transactions to the mempool where they still qualify. This is the entry
// point for correcting the chain after a fork was identified.
func (s *State) RevertLatestBlock() (database.Block, error) {
	s.evHandler("state: RevertLatestBlock: started")
	defer s.evHandler("state: RevertLatestBlock: completed")

	// If the runMiningOperation function is being executed it needs to stop
	// immediately. The G executing runMiningOperation will not return from the
	// function until done is called. That allows this function to complete
	// its state changes before a new mining operation takes place.
	done := s.Worker.SignalCancelMining()
	defer func() {
		s.evHandler("state: RevertLatestBlock: signal runMiningOperation to terminate")
		done()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := s.db.RevertLatestBlock()
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: RevertLatestBlock: reverted: blk[%d]: return transactions to mempool", block.Header.Number)

	// Offer the reverted transactions back to the pool so they can be
	// mined again. The coinbase stays dead with its block.
	for _, tx := range block.Trans.Values()[1:] {
		if err := s.mempool.Admit(tx); err != nil {
			s.evHandler("state: RevertLatestBlock: WARNING: tx[%s] not returned: %s", tx.TxID(), err)
		}
	}

	// Sweep anything the rewind made unminable and renormalize fees
	// against the reverted supply.
	s.mempool.RemoveForReorg(s.db, s.db.Height())

	return block, nil
}
