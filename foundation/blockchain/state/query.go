package state

import (
	"sort"

	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
)

// QueryLastest represents to query the latest block in the chain.
const QueryLastest = ^uint64(0) >> 1

// =============================================================================

// QueryBalances returns the spendable value the account holds in each
// currency.
func (s *State) QueryBalances(accountID database.AccountID) database.AccountBalance {
	return s.db.Balances(accountID)
}

// QueryUnspentOutputs returns the coins the account can spend.
func (s *State) QueryUnspentOutputs(accountID database.AccountID) []database.UTXO {
	return s.db.UnspentOutputs(accountID)
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Size()
}

// QueryMempool returns a snapshot of every pool entry, sorted by txid.
func (s *State) QueryMempool() []mempool.EntryInfo {
	txIDs := s.mempool.TxIDs()
	sort.Strings(txIDs)

	infos := make([]mempool.EntryInfo, 0, len(txIDs))
	for _, txid := range txIDs {
		if info, ok := s.mempool.Info(txid); ok {
			infos = append(infos, info)
		}
	}

	return infos
}

// QueryBlocksByNumber returns the set of blocks based on block numbers. This
// function reads the blockchain from disk first.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) []database.Block {
	if from == QueryLastest {
		from = s.db.LatestBlock().Header.Number
		to = from
	}
	if to == QueryLastest {
		to = s.db.LatestBlock().Header.Number
	}

	var out []database.Block
	for i := from; i <= to; i++ {
		block, err := s.db.GetBlock(i)
		if err != nil {
			s.evHandler("state: getblock: ERROR: %s", err)
			return nil
		}
		out = append(out, block)
	}

	return out
}

// QueryBlocksByAccount returns the set of blocks with a transaction the
// account signed or was paid by. If the account is empty, all blocks are
// returned. This function reads the blockchain from disk first.
func (s *State) QueryBlocksByAccount(accountID database.AccountID) ([]database.Block, error) {
	var out []database.Block

	iter := s.db.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		for _, tx := range block.Trans.Values() {
			if s.accountInTransaction(tx, accountID) {
				out = append(out, block)
				break
			}
		}
	}

	return out, nil
}

// accountInTransaction reports whether the account signed the transaction
// or owns one of its outputs. An empty account matches everything.
func (s *State) accountInTransaction(tx database.BlockTx, accountID database.AccountID) bool {
	if accountID == "" {
		return true
	}

	for _, out := range tx.Outputs {
		if out.OwnerID == accountID {
			return true
		}
	}

	if tx.IsCoinbase() {
		return false
	}

	from, err := s.fromAccount(tx.SignedTx)
	if err != nil {
		return false
	}

	return from == accountID
}

// =============================================================================

// CheckPool verifies the internal consistency of the mempool against the
// confirmed coin set. An inconsistency panics, there is no way to keep
// operating over a corrupted pool.
func (s *State) CheckPool() {
	s.mempool.Check(s.db)
}
