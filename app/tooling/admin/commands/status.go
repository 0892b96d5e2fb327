package commands

import (
	"fmt"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
)

// Status displays a summary of the node's chain tip and transaction pool.
func Status(url string) error {
	var status struct {
		LatestBlockHash   string          `json:"latest_block_hash"`
		LatestBlockNumber uint64          `json:"latest_block_number"`
		Beneficiary       string          `json:"beneficiary"`
		CashSupply        currency.Amount `json:"cash_supply"`
		BondSupply        currency.Amount `json:"bond_supply"`
		PoolLength        int             `json:"pool_length"`
		PoolBytes         int64           `json:"pool_bytes"`
		PoolCashFees      currency.Amount `json:"pool_cash_fees"`
		PoolBondFees      currency.Amount `json:"pool_bond_fees"`
		MinFeePerKB       currency.Amount `json:"min_fee_per_kb"`
		EstimatedFeePerKB currency.Amount `json:"estimated_fee_per_kb"`
	}

	if err := send("GET", fmt.Sprintf("%s/v1/node/status", url), nil, &status); err != nil {
		return err
	}

	fmt.Printf("LastestBlockHash: %s\n", status.LatestBlockHash)
	fmt.Printf("LatestBlockNumber: %d\n", status.LatestBlockNumber)
	fmt.Printf("Beneficiary: %s\n", status.Beneficiary)
	fmt.Printf("CashSupply: %d\n", status.CashSupply)
	fmt.Printf("BondSupply: %d\n", status.BondSupply)
	fmt.Printf("PoolLength: %d\n", status.PoolLength)
	fmt.Printf("PoolBytes: %d\n", status.PoolBytes)
	fmt.Printf("PoolFees: cash %d, bond %d\n", status.PoolCashFees, status.PoolBondFees)
	fmt.Printf("MinFeePerKB: %d\n", status.MinFeePerKB)
	fmt.Printf("EstimatedFeePerKB: %d\n", status.EstimatedFeePerKB)

	return nil
}

// Fees displays the fee information a wallet would use to price a
// transaction.
func Fees(url string) error {
	var fees struct {
		MinFeePerKB       currency.Amount `json:"min_fee_per_kb"`
		EstimatedFeePerKB currency.Amount `json:"estimated_fee_per_kb"`
		PoolBytes         int64           `json:"pool_bytes"`
		PoolCashFees      currency.Amount `json:"pool_cash_fees"`
		PoolBondFees      currency.Amount `json:"pool_bond_fees"`
	}

	if err := send("GET", fmt.Sprintf("%s/v1/node/fees", url), nil, &fees); err != nil {
		return err
	}

	fmt.Printf("MinFeePerKB: %d\n", fees.MinFeePerKB)
	fmt.Printf("EstimatedFeePerKB: %d\n", fees.EstimatedFeePerKB)
	fmt.Printf("PoolBytes: %d\n", fees.PoolBytes)
	fmt.Printf("PoolFees: cash %d, bond %d\n", fees.PoolCashFees, fees.PoolBondFees)

	return nil
}
