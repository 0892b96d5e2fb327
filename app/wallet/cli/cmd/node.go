package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// utxo mirrors the wire form of an unspent output returned by the node.
type utxo struct {
	TxID     string          `json:"txid"`
	Index    uint32          `json:"index"`
	Currency string          `json:"currency"`
	Value    currency.Amount `json:"value"`
	Height   uint64          `json:"height"`
	Coinbase bool            `json:"coinbase"`
}

// queryUnspent asks the node for the account's spendable outputs.
func queryUnspent(accountID database.AccountID) ([]utxo, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/utxo/list/%s", url, accountID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	var utxos []utxo
	if err := json.NewDecoder(resp.Body).Decode(&utxos); err != nil {
		return nil, err
	}

	return utxos, nil
}

// selectInputs picks outputs of the specified currency until the target is
// covered, spending older coins first. Coinbase outputs come last so a
// freshly mined reward is not grabbed before it matures.
func selectInputs(accountID database.AccountID, cur currency.Currency, target currency.Amount) ([]database.TxIn, currency.Amount, error) {
	utxos, err := queryUnspent(accountID)
	if err != nil {
		return nil, 0, err
	}

	var matching []utxo
	for _, u := range utxos {
		if u.Currency == cur.String() {
			matching = append(matching, u)
		}
	}

	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].Coinbase != matching[j].Coinbase {
			return !matching[i].Coinbase
		}
		return matching[i].Height < matching[j].Height
	})

	var inputs []database.TxIn
	var total currency.Amount
	for _, u := range matching {
		inputs = append(inputs, database.TxIn{OutPoint: database.OutPoint{TxID: u.TxID, Index: u.Index}})
		total += u.Value
		if total >= target {
			return inputs, total, nil
		}
	}

	return nil, 0, fmt.Errorf("insufficient funds: have %d %s, need %d", total, cur, target)
}

// submitTx sends the signed transaction to the node's public API.
func submitTx(signedTx database.SignedTx) error {
	data, err := json.Marshal(signedTx)
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			return fmt.Errorf("node rejected transaction: %s", er.Error)
		}
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	fmt.Println("Submitted transaction:", signedTx.TxID())

	return nil
}
