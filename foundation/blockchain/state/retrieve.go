package state

import (
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/genesis"
)

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveLatestBlock returns a copy of the current latest block.
func (s *State) RetrieveLatestBlock() database.Block {
	return s.db.LatestBlock()
}

// RetrieveTotalSupply returns the circulating supply of both currencies at
// the chain tip.
func (s *State) RetrieveTotalSupply() currency.Amounts {
	return s.db.TotalSupply()
}

// RetrieveBeneficiaryID returns the account this node mines for.
func (s *State) RetrieveBeneficiaryID() database.AccountID {
	return s.beneficiaryID
}

// RetrieveBalances returns the balance of every funded account.
func (s *State) RetrieveBalances() []database.AccountBalance {
	return s.db.CopyBalances()
}
