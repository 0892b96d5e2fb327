// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/holiman/uint256"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date            time.Time          `json:"date"`
	ChainID         uint16             `json:"chain_id"`         // The chain id represents an unique id for this running instance.
	Difficulty      uint16             `json:"difficulty"`       // How difficult it needs to be to solve the work problem.
	MiningReward    currency.Amount    `json:"mining_reward"`    // Base reward for mining a block, before halving.
	HalvingInterval uint64             `json:"halving_interval"` // Number of blocks between each halving of the mining reward.
	InitialSupply   Balance            `json:"initial_supply"`   // Reserve backing the conversion curve at genesis.
	Balances        map[string]Balance `json:"balances"`
}

// Balance holds an amount of each currency.
type Balance struct {
	Cash currency.Amount `json:"cash"`
	Bond currency.Amount `json:"bond"`
}

// Amounts converts the balance into the indexed form used by the
// settlement code.
func (b Balance) Amounts() currency.Amounts {
	return currency.Amounts{
		currency.Cash: b.Cash,
		currency.Bond: b.Bond,
	}
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load() (Genesis, error) {
	path := "zblock/genesis.json"
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// =============================================================================

// Subsidy returns the mining reward for a block at the specified height,
// split across the two currencies pro rata to the reserve supply the block
// leaves behind. When the reserve is empty the whole reward is paid in cash.
// Cash takes the truncation remainder of the split.
func (g Genesis) Subsidy(height uint64, supply currency.Amounts) currency.Amounts {
	reward := g.MiningReward
	if g.HalvingInterval > 0 {
		halvings := height / g.HalvingInterval
		if halvings >= 63 {
			return currency.Amounts{}
		}
		reward >>= halvings
	}
	if reward <= 0 {
		return currency.Amounts{}
	}

	total := supply[currency.Cash] + supply[currency.Bond]
	if total <= 0 {
		return currency.Amounts{currency.Cash: reward}
	}

	// bond = reward * supplyBond / total. The product can exceed 64 bits
	// so the division runs at 256 bits.
	num := new(uint256.Int).Mul(uint256.NewInt(uint64(reward)), uint256.NewInt(uint64(supply[currency.Bond])))
	num.Div(num, uint256.NewInt(uint64(total)))
	bond := currency.Amount(num.Uint64())

	return currency.Amounts{
		currency.Cash: reward - bond,
		currency.Bond: bond,
	}
}
