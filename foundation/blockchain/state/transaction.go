package state

import (
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// UpsertWalletTransaction accepts a transaction from a wallet for inclusion.
func (s *State) UpsertWalletTransaction(signedTx database.SignedTx) error {
	if err := signedTx.Validate(s.genesis.ChainID); err != nil {
		return err
	}

	from, err := s.fromAccount(signedTx)
	if err != nil {
		return err
	}

	tx := database.NewBlockTx(signedTx, uint64(time.Now().UTC().Unix()))

	if err := s.mempool.Admit(tx); err != nil {
		return err
	}

	s.evHandler("state: UpsertWalletTransaction: tx[%s] from[%s] accepted", tx.TxID(), from)

	s.Worker.SignalStartMining()

	return nil
}

// PrioritiseTransaction biases the mining priority of the specified
// transaction by a cash denominated fee delta. The bias survives the
// transaction leaving and re-entering the pool.
func (s *State) PrioritiseTransaction(txid string, delta currency.Amount) {
	s.evHandler("state: PrioritiseTransaction: tx[%s] delta[%d]", txid, delta)

	s.mempool.Prioritise(txid, delta)
}

// =============================================================================

// fromAccount extracts the account that signed the transaction, caching
// the recovery so chain scans and repeated submissions stay cheap.
func (s *State) fromAccount(tx database.SignedTx) (database.AccountID, error) {
	key := tx.TxID() + tx.SignatureString()

	if from, ok := s.recovered.Get(key); ok {
		return from, nil
	}

	from, err := tx.FromAccount()
	if err != nil {
		return "", err
	}
	s.recovered.Add(key, from)

	return from, nil
}
