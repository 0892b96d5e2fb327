package state_test

import (
	"context"
	"testing"
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/genesis"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
	"github.com/cashbond/blockchain/foundation/blockchain/state"
	"github.com/cashbond/blockchain/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

const (
	acct1 = database.AccountID("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	acct2 = database.AccountID("0xbEE6ACE826eC2DE1B38a1F7D5aB1C20f29e3A67b")
	miner = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
)

// =============================================================================

// nopWorker satisfies the worker contract for tests that drive mining
// directly through the state API.
type nopWorker struct{}

func (nopWorker) Shutdown() {}

func (nopWorker) SignalStartMining() {}

func (nopWorker) SignalCancelMining() (done func()) { return func() {} }

// =============================================================================

// newState constructs a state over in-memory storage with acct1 holding a
// premined cash balance of one million units.
func newState(t *testing.T) *state.State {
	t.Helper()

	strg, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the storage: %v", failed, err)
	}

	gen := genesis.Genesis{
		Date:            time.Now().UTC().Add(-time.Hour),
		ChainID:         1,
		Difficulty:      1,
		MiningReward:    4_000,
		HalvingInterval: 100,
		InitialSupply:   genesis.Balance{Cash: 10_000_000, Bond: 10_000_000},
		Balances: map[string]genesis.Balance{
			string(acct1): {Cash: 1_000_000},
		},
	}

	st, err := state.New(state.Config{
		BeneficiaryID: miner,
		Genesis:       gen,
		Storage:       strg,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}
	st.Worker = nopWorker{}

	return st
}

// genesisOutPoint returns the synthetic outpoint of the premined balance
// coin for the account in the specified currency.
func genesisOutPoint(accountID database.AccountID, c currency.Currency) database.OutPoint {
	return database.OutPoint{TxID: signature.Hash(string(accountID)), Index: uint32(c)}
}

// makeTx builds and signs a spend of the specified outpoints with acct1's
// key.
func makeTx(t *testing.T, nonce uint64, ins []database.OutPoint, outs []database.TxOut, conv *database.ConversionDecl) database.BlockTx {
	t.Helper()

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to parse the private key: %v", failed, err)
	}

	inputs := make([]database.TxIn, len(ins))
	for i, op := range ins {
		inputs[i] = database.TxIn{OutPoint: op}
	}

	tx := database.Tx{
		ChainID:    1,
		Nonce:      nonce,
		Inputs:     inputs,
		Outputs:    outs,
		Conversion: conv,
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return database.NewBlockTx(signedTx, uint64(time.Now().UTC().Unix()))
}

// =============================================================================

func Test_SubmitMineQuery(t *testing.T) {
	t.Log("Given the need to accept a wallet transaction and mine it into a block.")

	st := newState(t)
	defer st.Shutdown()

	op := genesisOutPoint(acct1, currency.Cash)
	tx := makeTx(t, 1, []database.OutPoint{op}, []database.TxOut{
		{OwnerID: acct2, Currency: currency.Cash, Value: 600_000},
		{OwnerID: acct1, Currency: currency.Cash, Value: 398_000},
	}, nil)

	if err := st.UpsertWalletTransaction(tx.SignedTx); err != nil {
		t.Fatalf("\t%s\tTest 0:\tShould be able to submit the transaction: %v", failed, err)
	}
	if l := st.QueryMempoolLength(); l != 1 {
		t.Fatalf("\t%s\tTest 0:\tShould hold one uncommitted transaction, got %d.", failed, l)
	}
	infos := st.QueryMempool()
	if fee := infos[0].Fees[currency.Cash]; fee != 2_000 {
		t.Fatalf("\t%s\tTest 0:\tShould record the 2000 cash fee, got %d.", failed, fee)
	}
	t.Logf("\t%s\tTest 0:\tShould accept the transaction into the pool.", success)

	block, err := st.MineNewBlock(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tTest 1:\tShould be able to mine a block: %v", failed, err)
	}
	if block.Header.Number != 1 {
		t.Fatalf("\t%s\tTest 1:\tShould mine block number 1, got %d.", failed, block.Header.Number)
	}
	if latest := st.RetrieveLatestBlock(); latest.Hash() != block.Hash() {
		t.Fatalf("\t%s\tTest 1:\tShould advance the chain tip to the mined block.", failed)
	}
	if l := st.QueryMempoolLength(); l != 0 {
		t.Fatalf("\t%s\tTest 1:\tShould drain the pool, got %d left.", failed, l)
	}
	t.Logf("\t%s\tTest 1:\tShould mine the transaction into block 1.", success)

	supply := st.RetrieveTotalSupply()
	if supply != (currency.Amounts{currency.Cash: 10_002_000, currency.Bond: 10_002_000}) {
		t.Fatalf("\t%s\tTest 2:\tShould add the subsidy to the supply, got %v.", failed, supply)
	}
	if bal := st.QueryBalances(acct2); bal.Cash != 600_000 || bal.Bond != 0 {
		t.Fatalf("\t%s\tTest 2:\tShould credit the receiver 600000 cash, got %d/%d.", failed, bal.Cash, bal.Bond)
	}
	if bal := st.QueryBalances(acct1); bal.Cash != 398_000 {
		t.Fatalf("\t%s\tTest 2:\tShould leave the sender the change, got %d.", failed, bal.Cash)
	}
	if bal := st.QueryBalances(miner); bal.Cash != 4_000 || bal.Bond != 2_000 {
		t.Fatalf("\t%s\tTest 2:\tShould pay the miner fees plus subsidy, got %d/%d.", failed, bal.Cash, bal.Bond)
	}
	if utxos := st.QueryUnspentOutputs(acct2); len(utxos) != 1 || utxos[0].Coin.Out.Value != 600_000 {
		t.Fatalf("\t%s\tTest 2:\tShould expose the receiver's unspent output, got %d.", failed, len(utxos))
	}
	t.Logf("\t%s\tTest 2:\tShould settle balances and supply.", success)

	blocks := st.QueryBlocksByNumber(state.QueryLastest, state.QueryLastest)
	if len(blocks) != 1 || blocks[0].Header.Number != 1 {
		t.Fatalf("\t%s\tTest 3:\tShould resolve the latest block query, got %d blocks.", failed, len(blocks))
	}
	byAcct, err := st.QueryBlocksByAccount(acct2)
	if err != nil {
		t.Fatalf("\t%s\tTest 3:\tShould be able to scan blocks by account: %v", failed, err)
	}
	if len(byAcct) != 1 {
		t.Fatalf("\t%s\tTest 3:\tShould find one block touching the receiver, got %d.", failed, len(byAcct))
	}
	stranger := database.AccountID("0x0000000000000000000000000000000000000001")
	if byNone, _ := st.QueryBlocksByAccount(stranger); len(byNone) != 0 {
		t.Fatalf("\t%s\tTest 3:\tShould find no blocks for an unknown account, got %d.", failed, len(byNone))
	}
	t.Logf("\t%s\tTest 3:\tShould answer block queries.", success)

	tx2 := makeTx(t, 2, []database.OutPoint{{TxID: tx.TxID(), Index: 1}}, []database.TxOut{
		{OwnerID: acct2, Currency: currency.Cash, Value: 397_000},
	}, nil)
	if err := st.UpsertWalletTransaction(tx2.SignedTx); err != nil {
		t.Fatalf("\t%s\tTest 4:\tShould be able to submit a second transaction: %v", failed, err)
	}
	if n := st.ExpireTransactions(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("\t%s\tTest 4:\tShould expire the pending transaction, got %d.", failed, n)
	}
	if l := st.QueryMempoolLength(); l != 0 {
		t.Fatalf("\t%s\tTest 4:\tShould leave the pool empty, got %d.", failed, l)
	}
	t.Logf("\t%s\tTest 4:\tShould expire stale pool transactions.", success)
}

func Test_ConversionLifecycle(t *testing.T) {
	t.Log("Given the need to settle a currency conversion through mining.")

	st := newState(t)
	defer st.Shutdown()

	op := genesisOutPoint(acct1, currency.Cash)
	conv := makeTx(t, 1, []database.OutPoint{op}, []database.TxOut{
		{Currency: currency.Cash, Value: 5_000},
		{OwnerID: acct1, Currency: currency.Bond, Value: 400_000},
		{OwnerID: acct1, Currency: currency.Cash, Value: 500_000},
	}, &database.ConversionDecl{RemainderType: currency.Bond, RemainderOwner: acct1})

	if err := st.UpsertWalletTransaction(conv.SignedTx); err != nil {
		t.Fatalf("\t%s\tTest 0:\tShould be able to submit the conversion: %v", failed, err)
	}
	infos := st.QueryMempool()
	if len(infos) != 1 || infos[0].Conversion == nil {
		t.Fatalf("\t%s\tTest 0:\tShould expose the conversion details in the pool.", failed)
	}
	if fee := infos[0].Fees[currency.Cash]; fee != 5_000 {
		t.Fatalf("\t%s\tTest 0:\tShould take the marker value as the fee, got %d.", failed, fee)
	}
	t.Logf("\t%s\tTest 0:\tShould accept the conversion into the pool.", success)

	block, err := st.MineNewBlock(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tTest 1:\tShould be able to mine the conversion: %v", failed, err)
	}

	cb := block.Trans.Values()[0]
	if len(cb.Outputs) != 3 {
		t.Fatalf("\t%s\tTest 1:\tShould append the remainder payout to the coinbase, got %d outputs.", failed, len(cb.Outputs))
	}
	if cb.Outputs[2] != (database.TxOut{OwnerID: acct1, Currency: currency.Bond, Value: 71_627}) {
		t.Fatalf("\t%s\tTest 1:\tShould pay the exact remainder to the owner, got %+v.", failed, cb.Outputs[2])
	}
	t.Logf("\t%s\tTest 1:\tShould route the settlement remainder through the coinbase.", success)

	supply := st.RetrieveTotalSupply()
	if supply != (currency.Amounts{currency.Cash: 9_506_904, currency.Bond: 10_473_723}) {
		t.Fatalf("\t%s\tTest 2:\tShould move the supply along the curve, got %v.", failed, supply)
	}
	if bal := st.QueryBalances(acct1); bal.Cash != 500_000 || bal.Bond != 471_627 {
		t.Fatalf("\t%s\tTest 2:\tShould credit the converter both sides, got %d/%d.", failed, bal.Cash, bal.Bond)
	}
	if bal := st.QueryBalances(miner); bal.Cash != 6_904 || bal.Bond != 2_096 {
		t.Fatalf("\t%s\tTest 2:\tShould pay the miner the marker fee plus subsidy, got %d/%d.", failed, bal.Cash, bal.Bond)
	}
	t.Logf("\t%s\tTest 2:\tShould keep supply and balances on the invariant.", success)
}

func Test_RevertLatestBlock(t *testing.T) {
	t.Log("Given the need to revert the latest block back into the pool.")

	st := newState(t)
	defer st.Shutdown()

	op := genesisOutPoint(acct1, currency.Cash)
	tx := makeTx(t, 1, []database.OutPoint{op}, []database.TxOut{
		{OwnerID: acct2, Currency: currency.Cash, Value: 600_000},
		{OwnerID: acct1, Currency: currency.Cash, Value: 398_000},
	}, nil)

	if err := st.UpsertWalletTransaction(tx.SignedTx); err != nil {
		t.Fatalf("\t%s\tTest 0:\tShould be able to submit the transaction: %v", failed, err)
	}
	if _, err := st.MineNewBlock(context.Background()); err != nil {
		t.Fatalf("\t%s\tTest 0:\tShould be able to mine a block: %v", failed, err)
	}
	t.Logf("\t%s\tTest 0:\tShould mine the transaction into block 1.", success)

	reverted, err := st.RevertLatestBlock()
	if err != nil {
		t.Fatalf("\t%s\tTest 1:\tShould be able to revert the latest block: %v", failed, err)
	}
	if reverted.Header.Number != 1 {
		t.Fatalf("\t%s\tTest 1:\tShould revert block number 1, got %d.", failed, reverted.Header.Number)
	}
	if h := st.RetrieveLatestBlock().Header.Number; h != 0 {
		t.Fatalf("\t%s\tTest 1:\tShould return the chain to genesis, got height %d.", failed, h)
	}
	t.Logf("\t%s\tTest 1:\tShould detach the mined block.", success)

	supply := st.RetrieveTotalSupply()
	if supply != (currency.Amounts{currency.Cash: 10_000_000, currency.Bond: 10_000_000}) {
		t.Fatalf("\t%s\tTest 2:\tShould restore the genesis supply, got %v.", failed, supply)
	}
	if bal := st.QueryBalances(acct1); bal.Cash != 1_000_000 {
		t.Fatalf("\t%s\tTest 2:\tShould restore the sender's balance, got %d.", failed, bal.Cash)
	}
	if bal := st.QueryBalances(miner); bal.Cash != 0 || bal.Bond != 0 {
		t.Fatalf("\t%s\tTest 2:\tShould take back the miner's reward, got %d/%d.", failed, bal.Cash, bal.Bond)
	}
	if l := st.QueryMempoolLength(); l != 1 {
		t.Fatalf("\t%s\tTest 2:\tShould return the transaction to the pool, got %d.", failed, l)
	}
	t.Logf("\t%s\tTest 2:\tShould restore balances and requeue the transaction.", success)

	block, err := st.MineNewBlock(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tTest 3:\tShould be able to mine the transaction again: %v", failed, err)
	}
	if block.Header.Number != 1 {
		t.Fatalf("\t%s\tTest 3:\tShould mine block number 1 again, got %d.", failed, block.Header.Number)
	}
	if bal := st.QueryBalances(miner); bal.Cash != 4_000 || bal.Bond != 2_000 {
		t.Fatalf("\t%s\tTest 3:\tShould pay the miner again, got %d/%d.", failed, bal.Cash, bal.Bond)
	}
	t.Logf("\t%s\tTest 3:\tShould remine the reverted transaction.", success)
}
