package cmd

import (
	"crypto/ecdsa"
	"errors"
	"log"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	minOut      int64
	deadline    uint64
	remainderTo string
)

// convertCmd represents the convert command. A conversion trades one
// currency for the other against the reserve. The trade must deliver at
// least the minimum output or it will not settle, and anything delivered
// above the minimum is paid to the remainder owner.
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert between cash and bond against the reserve",
	Run:   convertRun,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().Uint16VarP(&chainID, "chain-id", "i", 1, "Chain id the transaction belongs to.")
	convertCmd.Flags().StringVarP(&to, "to", "t", "", "Account receiving the converted funds, defaults to the wallet account.")
	convertCmd.Flags().StringVarP(&curName, "currency", "c", "cash", "Currency to convert from, cash or bond.")
	convertCmd.Flags().Int64VarP(&value, "value", "v", 0, "Value to convert.")
	convertCmd.Flags().Int64VarP(&minOut, "min", "m", 0, "Minimum acceptable output in the other currency.")
	convertCmd.Flags().Int64VarP(&fee, "fee", "f", 5000, "Conversion fee for the miner.")
	convertCmd.Flags().Uint64VarP(&deadline, "deadline", "d", 0, "Block height after which the conversion expires, 0 for none.")
	convertCmd.Flags().StringVarP(&remainderTo, "remainder-to", "r", "", "Account receiving the settlement remainder, defaults to the wallet account.")
	convertCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction, defaults to the current time.")
}

func convertRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	if err := convertWithDetails(privateKey); err != nil {
		log.Fatal(err)
	}
}

func convertWithDetails(privateKey *ecdsa.PrivateKey) error {
	cur, err := currency.Parse(curName)
	if err != nil {
		return err
	}
	target := cur.Other()

	if value <= 0 {
		return errors.New("value must be positive")
	}
	if minOut <= 0 {
		return errors.New("min must be positive")
	}
	if fee < 0 {
		return errors.New("fee cannot be negative")
	}

	fromAccountID := database.PublicKeyToAccountID(privateKey.PublicKey)

	toAccountID := fromAccountID
	if to != "" {
		if toAccountID, err = database.ToAccountID(to); err != nil {
			return err
		}
	}

	remainderOwner := fromAccountID
	if remainderTo != "" {
		if remainderOwner, err = database.ToAccountID(remainderTo); err != nil {
			return err
		}
	}

	spend := currency.Amount(value) + currency.Amount(fee)
	inputs, total, err := selectInputs(fromAccountID, cur, spend)
	if err != nil {
		return err
	}

	// The fee marker must be the first output. Inputs above the converted
	// value and fee come back as change, they do not enter the trade.
	outputs := []database.TxOut{
		{Currency: cur, Value: currency.Amount(fee)},
		{OwnerID: toAccountID, Currency: target, Value: currency.Amount(minOut)},
	}
	if change := total - spend; change > 0 {
		outputs = append(outputs, database.TxOut{OwnerID: fromAccountID, Currency: cur, Value: change})
	}

	decl := database.ConversionDecl{
		RemainderType:  target,
		Deadline:       deadline,
		RemainderOwner: remainderOwner,
	}

	tx, err := database.NewTx(chainID, txNonce(), inputs, outputs, &decl)
	if err != nil {
		return err
	}

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		return err
	}

	return submitTx(signedTx)
}
