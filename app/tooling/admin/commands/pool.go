package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ardanlabs/conf/v3"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
)

// Prioritise adjusts the fee the pool sorts the specified transaction by.
// The delta can be negative to deprioritise.
func Prioritise(args conf.Args, url string) error {
	if args.Num(1) == "" || args.Num(2) == "" {
		return errors.New("usage: admin prioritise <txid> <delta>")
	}

	delta, err := strconv.ParseInt(args.Num(2), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing delta: %w", err)
	}

	req := struct {
		TxID  string          `json:"txid"`
		Delta currency.Amount `json:"delta"`
	}{
		TxID:  args.Num(1),
		Delta: currency.Amount(delta),
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := send("POST", fmt.Sprintf("%s/v1/node/tx/prioritise", url), req, &resp); err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", resp.Status)

	return nil
}

// CheckPool runs the node's pool consistency check.
func CheckPool(url string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := send("POST", fmt.Sprintf("%s/v1/node/pool/check", url), nil, &resp); err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", resp.Status)

	return nil
}
