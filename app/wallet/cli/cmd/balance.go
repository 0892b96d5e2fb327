package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type balance struct {
	Account string          `json:"account"`
	Name    string          `json:"name"`
	Cash    currency.Amount `json:"cash"`
	Bond    currency.Amount `json:"bond"`
}

type balances struct {
	LastestBlock string    `json:"lastest_block"`
	Uncommitted  int       `json:"uncommitted"`
	Balances     []balance `json:"balances"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the wallet's balance in both currencies",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
	fmt.Println("For Account:", accountID)

	resp, err := http.Get(fmt.Sprintf("%s/v1/balances/list/%s", url, accountID))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	var balances balances
	if err := decoder.Decode(&balances); err != nil {
		log.Fatal(err)
	}

	fmt.Println("LastestBlock:", balances.LastestBlock)
	fmt.Println("Uncommitted:", balances.Uncommitted)

	for _, bal := range balances.Balances {
		fmt.Printf("cash: %d  bond: %d\n", bal.Cash, bal.Bond)
	}
}
