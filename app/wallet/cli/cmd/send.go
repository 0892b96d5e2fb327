package cmd

import (
	"crypto/ecdsa"
	"errors"
	"log"
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	chainID  uint16
	to       string
	curName  string
	value    int64
	fee      int64
	nonce    uint64
	lockTime uint64
)

// sendCmd represents the send command.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send an amount of cash or bond to another account",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint16VarP(&chainID, "chain-id", "i", 1, "Chain id the transaction belongs to.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account to send to.")
	sendCmd.Flags().StringVarP(&curName, "currency", "c", "cash", "Currency to send, cash or bond.")
	sendCmd.Flags().Int64VarP(&value, "value", "v", 0, "Value to send.")
	sendCmd.Flags().Int64VarP(&fee, "fee", "f", 1000, "Fee to pay the miner.")
	sendCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction, defaults to the current time.")
	sendCmd.Flags().Uint64VarP(&lockTime, "lock-time", "l", 0, "Earliest height or unix time the transaction is final.")
}

func sendRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	if err := sendWithDetails(privateKey); err != nil {
		log.Fatal(err)
	}
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) error {
	toAccountID, err := database.ToAccountID(to)
	if err != nil {
		return err
	}

	cur, err := currency.Parse(curName)
	if err != nil {
		return err
	}

	if value <= 0 {
		return errors.New("value must be positive")
	}
	if fee < 0 {
		return errors.New("fee cannot be negative")
	}

	fromAccountID := database.PublicKeyToAccountID(privateKey.PublicKey)

	target := currency.Amount(value) + currency.Amount(fee)
	inputs, total, err := selectInputs(fromAccountID, cur, target)
	if err != nil {
		return err
	}

	outputs := []database.TxOut{
		{OwnerID: toAccountID, Currency: cur, Value: currency.Amount(value)},
	}
	if change := total - target; change > 0 {
		outputs = append(outputs, database.TxOut{OwnerID: fromAccountID, Currency: cur, Value: change})
	}

	tx, err := database.NewTx(chainID, txNonce(), inputs, outputs, nil)
	if err != nil {
		return err
	}
	tx.LockTime = lockTime

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		return err
	}

	return submitTx(signedTx)
}

// txNonce returns the nonce flag when set, otherwise a time based value
// so two otherwise identical sends produce distinct transactions.
func txNonce() uint64 {
	if nonce != 0 {
		return nonce
	}

	return uint64(time.Now().UnixNano())
}
