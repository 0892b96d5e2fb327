package commands

import (
	"fmt"

	"github.com/ardanlabs/conf/v3"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// Blocks lists blocks from the node in wire form. With no arguments the
// latest block is shown, otherwise a from/to range is requested.
func Blocks(args conf.Args, url string) error {
	from := args.Num(1)
	if from == "" {
		from = "latest"
	}
	to := args.Num(2)
	if to == "" {
		to = from
	}

	var blocks []database.BlockData
	if err := send("GET", fmt.Sprintf("%s/v1/node/block/list/%s/%s", url, from, to), nil, &blocks); err != nil {
		return err
	}

	if len(blocks) == 0 {
		fmt.Println("No blocks in the requested range")
		return nil
	}

	for _, block := range blocks {
		printBlock(block)
	}

	return nil
}

// Revert asks the node to disconnect the latest block and return its
// transactions to the pool.
func Revert(url string) error {
	var block database.BlockData
	if err := send("POST", fmt.Sprintf("%s/v1/node/block/revert", url), nil, &block); err != nil {
		return err
	}

	fmt.Println("Reverted block")
	printBlock(block)

	return nil
}

func printBlock(block database.BlockData) {
	fmt.Printf("Block: %d\n", block.Header.Number)
	fmt.Printf("  Hash: %s\n", block.Hash)
	fmt.Printf("  PrevBlockHash: %s\n", block.Header.PrevBlockHash)
	fmt.Printf("  Beneficiary: %s\n", block.Header.BeneficiaryID)
	fmt.Printf("  Difficulty: %d  Nonce: %d\n", block.Header.Difficulty, block.Header.Nonce)
	fmt.Printf("  Supply: cash %d, bond %d\n", block.Header.CashSupply, block.Header.BondSupply)
	fmt.Printf("  Transactions: %d\n", len(block.Trans))
}
