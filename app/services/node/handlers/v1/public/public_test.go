package public_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/cashbond/blockchain/app/services/node/handlers"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/genesis"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
	"github.com/cashbond/blockchain/foundation/blockchain/state"
	"github.com/cashbond/blockchain/foundation/blockchain/storage/memory"
	"github.com/cashbond/blockchain/foundation/events"
	"github.com/cashbond/blockchain/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
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

// nopWorker satisfies the worker contract so the mining signal endpoint can
// be exercised without a real miner.
type nopWorker struct{}

func (nopWorker) Shutdown() {}

func (nopWorker) SignalStartMining() {}

func (nopWorker) SignalCancelMining() (done func()) { return func() {} }

// =============================================================================

// newMux constructs the public mux over a fresh state with acct1 holding a
// premined cash balance of one million units.
func newMux(t *testing.T) http.Handler {
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
	t.Cleanup(func() { st.Shutdown() })

	ns, err := nameservice.New(t.TempDir())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the name service: %v", failed, err)
	}

	return handlers.PublicMux(handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		State:    st,
		NS:       ns,
		Evts:     events.New(),
	})
}

// signTx builds and signs a spend of the specified outpoints with acct1's
// key.
func signTx(t *testing.T, nonce uint64, ins []database.OutPoint, outs []database.TxOut) database.SignedTx {
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
		ChainID: 1,
		Nonce:   nonce,
		Inputs:  inputs,
		Outputs: outs,
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return signedTx
}

// exec runs a single request against the mux and returns the recorder.
func exec(t *testing.T, mux http.Handler, method string, url string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal the request body: %v", failed, err)
		}
		rdr = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, url, rdr)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	return w
}

// decodeBody decodes the recorded response body into the specified value.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("\t%s\tShould be able to decode the response: %v", failed, err)
	}
}

// =============================================================================

func Test_PublicAPI(t *testing.T) {
	t.Log("Given the need to serve wallet queries and submissions over the public API.")

	mux := newMux(t)

	type moneyResp struct {
		Cash currency.Amount `json:"cash"`
		Bond currency.Amount `json:"bond"`
	}

	type balanceResp struct {
		Account string          `json:"account"`
		Cash    currency.Amount `json:"cash"`
		Bond    currency.Amount `json:"bond"`
	}

	type balancesResp struct {
		LastestBlock string        `json:"lastest_block"`
		Uncommitted  int           `json:"uncommitted"`
		Balances     []balanceResp `json:"balances"`
	}

	type utxoResp struct {
		TxID     string          `json:"txid"`
		Index    uint32          `json:"index"`
		Currency string          `json:"currency"`
		Value    currency.Amount `json:"value"`
		Coinbase bool            `json:"coinbase"`
	}

	type poolTxResp struct {
		TxID string    `json:"txid"`
		From string    `json:"from"`
		Fees moneyResp `json:"fees"`
	}

	type statusResp struct {
		Status string `json:"status"`
	}

	type errorResp struct {
		Error string `json:"error"`
	}

	w := exec(t, mux, http.MethodGet, "/v1/genesis/list", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("\t%s\tTest 0:\tShould get status 200 for the genesis query, got %d.", failed, w.Code)
	}
	var gen genesis.Genesis
	decodeBody(t, w, &gen)
	if gen.ChainID != 1 || gen.MiningReward != 4_000 {
		t.Fatalf("\t%s\tTest 0:\tShould return the chain settings, got chain %d reward %d.", failed, gen.ChainID, gen.MiningReward)
	}
	t.Logf("\t%s\tTest 0:\tShould serve the genesis settings.", success)

	w = exec(t, mux, http.MethodGet, "/v1/balances/list/"+string(acct1), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("\t%s\tTest 1:\tShould get status 200 for the balance query, got %d.", failed, w.Code)
	}
	var bals balancesResp
	decodeBody(t, w, &bals)
	if len(bals.Balances) != 1 || bals.Balances[0].Account != string(acct1) {
		t.Fatalf("\t%s\tTest 1:\tShould return one balance for the account, got %+v.", failed, bals.Balances)
	}
	if bals.Balances[0].Cash != 1_000_000 || bals.Balances[0].Bond != 0 {
		t.Fatalf("\t%s\tTest 1:\tShould report the premined balance, got %d/%d.", failed, bals.Balances[0].Cash, bals.Balances[0].Bond)
	}
	if bals.Uncommitted != 0 {
		t.Fatalf("\t%s\tTest 1:\tShould report an empty pool, got %d.", failed, bals.Uncommitted)
	}
	if w = exec(t, mux, http.MethodGet, "/v1/balances/list/bogus", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("\t%s\tTest 1:\tShould get status 400 for a malformed account, got %d.", failed, w.Code)
	}
	t.Logf("\t%s\tTest 1:\tShould serve account balances.", success)

	w = exec(t, mux, http.MethodGet, "/v1/utxo/list/"+string(acct1), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("\t%s\tTest 2:\tShould get status 200 for the utxo query, got %d.", failed, w.Code)
	}
	var utxos []utxoResp
	decodeBody(t, w, &utxos)
	if len(utxos) != 1 {
		t.Fatalf("\t%s\tTest 2:\tShould return one unspent output, got %d.", failed, len(utxos))
	}
	if utxos[0].TxID != signature.Hash(string(acct1)) || utxos[0].Index != uint32(currency.Cash) {
		t.Fatalf("\t%s\tTest 2:\tShould return the premined outpoint, got %s/%d.", failed, utxos[0].TxID, utxos[0].Index)
	}
	if utxos[0].Currency != "cash" || utxos[0].Value != 1_000_000 || utxos[0].Coinbase {
		t.Fatalf("\t%s\tTest 2:\tShould describe the premined coin, got %+v.", failed, utxos[0])
	}
	t.Logf("\t%s\tTest 2:\tShould serve the unspent outputs.", success)

	op := database.OutPoint{TxID: signature.Hash(string(acct1)), Index: uint32(currency.Cash)}
	signedTx := signTx(t, 1, []database.OutPoint{op}, []database.TxOut{
		{OwnerID: acct2, Currency: currency.Cash, Value: 600_000},
		{OwnerID: acct1, Currency: currency.Cash, Value: 398_000},
	})

	w = exec(t, mux, http.MethodPost, "/v1/tx/submit", signedTx)
	if w.Code != http.StatusOK {
		t.Fatalf("\t%s\tTest 3:\tShould get status 200 for the submission, got %d: %s", failed, w.Code, w.Body.String())
	}
	var subResp statusResp
	decodeBody(t, w, &subResp)
	if subResp.Status != "transaction added to mempool" {
		t.Fatalf("\t%s\tTest 3:\tShould confirm the admission, got %q.", failed, subResp.Status)
	}
	t.Logf("\t%s\tTest 3:\tShould accept a signed transaction.", success)

	w = exec(t, mux, http.MethodGet, "/v1/tx/uncommitted/list", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("\t%s\tTest 4:\tShould get status 200 for the pool query, got %d.", failed, w.Code)
	}
	var pool []poolTxResp
	decodeBody(t, w, &pool)
	if len(pool) != 1 || pool[0].TxID != signedTx.TxID() {
		t.Fatalf("\t%s\tTest 4:\tShould list the uncommitted transaction, got %+v.", failed, pool)
	}
	if pool[0].From != string(acct1) || pool[0].Fees.Cash != 2_000 {
		t.Fatalf("\t%s\tTest 4:\tShould resolve the sender and fee, got %s/%d.", failed, pool[0].From, pool[0].Fees.Cash)
	}

	w = exec(t, mux, http.MethodGet, "/v1/tx/uncommitted/list/"+string(acct2), nil)
	var forReceiver []poolTxResp
	decodeBody(t, w, &forReceiver)
	if len(forReceiver) != 1 {
		t.Fatalf("\t%s\tTest 4:\tShould match the pool filter for the receiver, got %d.", failed, len(forReceiver))
	}

	w = exec(t, mux, http.MethodGet, "/v1/tx/uncommitted/list/0x0000000000000000000000000000000000000001", nil)
	var forStranger []poolTxResp
	decodeBody(t, w, &forStranger)
	if len(forStranger) != 0 {
		t.Fatalf("\t%s\tTest 4:\tShould match nothing for an unknown account, got %d.", failed, len(forStranger))
	}

	w = exec(t, mux, http.MethodGet, "/v1/balances/list/"+string(acct1), nil)
	decodeBody(t, w, &bals)
	if bals.Uncommitted != 1 || bals.Balances[0].Cash != 1_000_000 {
		t.Fatalf("\t%s\tTest 4:\tShould leave balances committed-only, got %d uncommitted %d cash.", failed, bals.Uncommitted, bals.Balances[0].Cash)
	}
	t.Logf("\t%s\tTest 4:\tShould serve the pool contents.", success)

	w = exec(t, mux, http.MethodPost, "/v1/tx/submit", signedTx)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("\t%s\tTest 5:\tShould get status 400 for a duplicate submission, got %d.", failed, w.Code)
	}
	var er errorResp
	decodeBody(t, w, &er)
	if er.Error == "" {
		t.Fatalf("\t%s\tTest 5:\tShould carry the rejection reason.", failed)
	}
	t.Logf("\t%s\tTest 5:\tShould reject a duplicate submission.", success)

	if w = exec(t, mux, http.MethodGet, "/v1/blocks/list/"+string(acct1), nil); w.Code != http.StatusNoContent {
		t.Fatalf("\t%s\tTest 6:\tShould get status 204 with no blocks mined, got %d.", failed, w.Code)
	}

	w = exec(t, mux, http.MethodGet, "/v1/mining/signal", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("\t%s\tTest 6:\tShould get status 200 for the mining signal, got %d.", failed, w.Code)
	}
	var sigResp statusResp
	decodeBody(t, w, &sigResp)
	if sigResp.Status != "mining signaled" {
		t.Fatalf("\t%s\tTest 6:\tShould confirm the mining signal, got %q.", failed, sigResp.Status)
	}
	t.Logf("\t%s\tTest 6:\tShould answer block queries and mining signals.", success)
}
