package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// ErrNoTransactions is returned when a block is requested to be created
// and there are not enough transactions.
var ErrNoTransactions = errors.New("no transactions in mempool")

// =============================================================================

// MineNewBlock attempts to create a new block with a proper hash that can become
// the next block in the chain.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: check mempool count")

	// Are there enough transactions in the pool.
	if s.mempool.Size() == 0 {
		return database.Block{}, ErrNoTransactions
	}

	s.evHandler("state: MineNewBlock: MINING: assemble block template")

	// Select and order transactions from a frozen copy of the pool,
	// settling every conversion into the supply the header will declare.
	latestBlock := s.db.LatestBlock()
	template := s.assembler.Assemble(s.mempool.MiningSnapshot(), latestBlock.Header.Number+1, s.db.MedianTimePast())

	s.evHandler("state: MineNewBlock: MINING: perform POW")

	// Attempt to create a new block by solving the POW puzzle. This can be cancelled.
	block, err := database.POW(ctx, s.beneficiaryID, s.genesis.Difficulty, latestBlock, template.Supply, template.Transactions, s.evHandler)
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: validate and update database")

	// Validate the block and then update the blockchain database.
	if err := s.validateUpdateDatabase(block); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// =============================================================================

// validateUpdateDatabase takes the block and validates it against the
// consensus rules. If the block passes, the state of the node is updated
// including adding the block to disk.
func (s *State) validateUpdateDatabase(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: validateUpdateDatabase: validate and apply block")

	// The database validates the block against the chain, settles every
	// transaction and conversion into the coin set and supply, and writes
	// the block to storage.
	if err := s.db.ApplyBlock(block); err != nil {
		return err
	}

	s.evHandler("state: validateUpdateDatabase: remove mined transactions from mempool")

	// Drop the mined transactions from the pool and sweep any conversion
	// the new supply makes unsettleable.
	s.mempool.RemoveForBlock(block.Trans.Values(), block.Header.Number, s.db.TotalSupply())

	// Send an event about this new block.
	s.blockEvent(block)

	return nil
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block) {
	blockHeaderJSON, err := json.Marshal(block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	blockTransJSON, err := json.Marshal(block.Trans.Values())
	if err != nil {
		blockTransJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"header":%s,"trans":%s}`, block.Hash(), string(blockHeaderJSON), string(blockTransJSON))
}
