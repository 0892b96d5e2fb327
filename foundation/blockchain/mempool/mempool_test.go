package mempool_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
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
	acct2 = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
)

// =============================================================================

type testTip struct {
	height uint64
	mtp    uint64
	supply currency.Amounts
}

func (tt *testTip) Height() uint64 { return tt.height }

func (tt *testTip) MedianTimePast() uint64 { return tt.mtp }

func (tt *testTip) TotalSupply() currency.Amounts { return tt.supply }

type testView struct {
	coins map[database.OutPoint]database.Coin
}

func (tv *testView) AccessCoin(op database.OutPoint) (database.Coin, bool) {
	coin, ok := tv.coins[op]
	return coin, ok
}

func (tv *testView) HasInputs(tx database.Tx) bool {
	for _, in := range tx.Inputs {
		if _, ok := tv.coins[in.OutPoint]; !ok {
			return false
		}
	}
	return true
}

type testEstimator struct {
	blocks    int
	mined     []string
	processed []string
	removed   []string
}

func (te *testEstimator) ProcessBlock(height uint64, mined []*mempool.Entry) {
	te.blocks++
	for _, e := range mined {
		te.mined = append(te.mined, e.TxID())
	}
}

func (te *testEstimator) ProcessTransaction(entry *mempool.Entry, validEstimate bool) {
	te.processed = append(te.processed, entry.TxID())
}

func (te *testEstimator) RemoveTx(txid string) {
	te.removed = append(te.removed, txid)
}

// =============================================================================

type harness struct {
	pool      *mempool.Pool
	tip       *testTip
	view      *testView
	estimator *testEstimator
	clock     *clock.Mock
}

// newHarness builds a pool over a stub chain with coins seeded for acct1.
func newHarness(t *testing.T, cfg mempool.Config, coinValues []currency.Amount) (*harness, []database.OutPoint) {
	t.Helper()

	h := harness{
		tip:       &testTip{height: 10, mtp: 1_700_000_000, supply: currency.Amounts{currency.Cash: 10_000, currency.Bond: 10_000}},
		view:      &testView{coins: make(map[database.OutPoint]database.Coin)},
		estimator: &testEstimator{},
		clock:     clock.NewMock(),
	}

	var ops []database.OutPoint
	for i, v := range coinValues {
		op := database.OutPoint{TxID: "0xseed", Index: uint32(i)}
		h.view.coins[op] = database.Coin{
			Out:    database.TxOut{OwnerID: acct1, Currency: currency.Cash, Value: v},
			Height: 1,
		}
		ops = append(ops, op)
	}

	cfg.ChainID = 1
	cfg.ChainTip = h.tip
	cfg.View = h.view
	cfg.Estimator = h.estimator
	cfg.Clock = h.clock

	pool, err := mempool.New(cfg)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the pool: %v", failed, err)
	}
	h.pool = pool

	return &h, ops
}

// makeTx builds and signs a spend of the specified outpoints.
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

	return database.NewBlockTx(signedTx, 0)
}

// admit feeds a transaction into the pool and fails the test on rejection.
func (h *harness) admit(t *testing.T, tx database.BlockTx) {
	t.Helper()

	if err := h.pool.Admit(tx); err != nil {
		t.Fatalf("\t%s\tShould be able to admit tx %s: %v", failed, tx.TxID(), err)
	}
}

func wantReject(t *testing.T, err error, code database.RejectCode, name string) {
	t.Helper()

	got, ok := database.ErrorCode(err)
	if !ok || got != code {
		t.Fatalf("\t%s\tShould reject %q with %s, got %v.", failed, name, code, err)
	}
	t.Logf("\t%s\tShould reject %q with %s.", success, name, code)
}

// =============================================================================

func Test_AdmitAndAggregates(t *testing.T) {
	t.Log("Given the need to track ancestor and descendant aggregates.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000})

	// A chain of three: txA spends the seed coin, txB spends txA's
	// output, txC spends txB's output. Fees 100, 200, 300 cash.
	txA := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	txB := makeTx(t, 2, []database.OutPoint{{TxID: txA.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_700},
	}, nil)
	txC := makeTx(t, 3, []database.OutPoint{{TxID: txB.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_400},
	}, nil)

	h.admit(t, txA)
	h.admit(t, txB)
	h.admit(t, txC)

	if h.pool.Size() != 3 {
		t.Fatalf("\t%s\tTest 0:\tShould hold three transactions, got %d.", failed, h.pool.Size())
	}
	t.Logf("\t%s\tTest 0:\tShould hold three transactions.", success)

	infoA, _ := h.pool.Info(txA.TxID())
	infoB, _ := h.pool.Info(txB.TxID())
	infoC, _ := h.pool.Info(txC.TxID())

	if infoA.CountWithDescendants != 3 || infoB.CountWithDescendants != 2 || infoC.CountWithDescendants != 1 {
		t.Fatalf("\t%s\tTest 1:\tShould count descendants 3/2/1, got %d/%d/%d.",
			failed, infoA.CountWithDescendants, infoB.CountWithDescendants, infoC.CountWithDescendants)
	}
	if infoA.CountWithAncestors != 1 || infoB.CountWithAncestors != 2 || infoC.CountWithAncestors != 3 {
		t.Fatalf("\t%s\tTest 1:\tShould count ancestors 1/2/3, got %d/%d/%d.",
			failed, infoA.CountWithAncestors, infoB.CountWithAncestors, infoC.CountWithAncestors)
	}
	t.Logf("\t%s\tTest 1:\tShould count ancestors and descendants along the chain.", success)

	if got := infoA.FeesWithDescendants[currency.Cash]; got != 600 {
		t.Fatalf("\t%s\tTest 2:\tShould aggregate 600 descendant fees on txA, got %d.", failed, got)
	}
	if got := infoC.FeesWithAncestors[currency.Cash]; got != 600 {
		t.Fatalf("\t%s\tTest 2:\tShould aggregate 600 ancestor fees on txC, got %d.", failed, got)
	}
	if want := infoA.Size + infoB.Size + infoC.Size; infoA.SizeWithDescendants != want || infoC.SizeWithAncestors != want {
		t.Fatalf("\t%s\tTest 2:\tShould aggregate sizes to %d, got %d and %d.",
			failed, want, infoA.SizeWithDescendants, infoC.SizeWithAncestors)
	}
	if want := infoA.SigOpCost + infoB.SigOpCost + infoC.SigOpCost; infoC.SigOpCostWithAncestors != want {
		t.Fatalf("\t%s\tTest 2:\tShould aggregate sigop cost to %d, got %d.", failed, want, infoC.SigOpCostWithAncestors)
	}
	t.Logf("\t%s\tTest 2:\tShould aggregate fees, sizes and sigops in both directions.", success)

	if infoB.NormalizedFee != 200 || infoB.NormalizedModFee != 200 {
		t.Fatalf("\t%s\tTest 3:\tShould normalize a pure cash fee to itself, got %d.", failed, infoB.NormalizedFee)
	}
	t.Logf("\t%s\tTest 3:\tShould normalize a pure cash fee to itself.", success)

	if fees := h.pool.TotalFees(); fees[currency.Cash] != 600 {
		t.Fatalf("\t%s\tTest 4:\tShould track 600 total fees, got %s.", failed, fees)
	}
	if want := infoA.Size + infoB.Size + infoC.Size; h.pool.TotalTxBytes() != want {
		t.Fatalf("\t%s\tTest 4:\tShould track %d total bytes, got %d.", failed, want, h.pool.TotalTxBytes())
	}
	t.Logf("\t%s\tTest 4:\tShould track pool totals.", success)

	h.pool.Check(h.view)
	t.Logf("\t%s\tTest 5:\tShould pass the consistency check.", success)
}

func Test_AdmitRejects(t *testing.T) {
	t.Log("Given the need to reject transactions that break pool policy.")

	limits := mempool.DefaultLimits()
	limits.MaxAncestors = 2
	h, ops := newHarness(t, mempool.Config{Limits: limits}, []currency.Amount{10_000, 5_000})

	// Missing input.
	ghost := makeTx(t, 1, []database.OutPoint{{TxID: "0xnope", Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 1},
	}, nil)
	wantReject(t, h.pool.Admit(ghost), database.RejectMissingOrSpent, "a spend of an unknown coin")

	// Valid admission, then a duplicate submission and a double spend.
	txA := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	h.admit(t, txA)

	wantReject(t, h.pool.Admit(txA), database.RejectAlreadyKnown, "a duplicate submission")

	doubleSpend := makeTx(t, 9, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct2, Currency: currency.Cash, Value: 9_000},
	}, nil)
	wantReject(t, h.pool.Admit(doubleSpend), database.RejectDuplicateInput, "a double spend of a pooled input")

	// Ancestor limit: with MaxAncestors 2 the third link is refused.
	txB := makeTx(t, 2, []database.OutPoint{{TxID: txA.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_800},
	}, nil)
	h.admit(t, txB)

	txC := makeTx(t, 3, []database.OutPoint{{TxID: txB.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_700},
	}, nil)
	wantReject(t, h.pool.Admit(txC), database.RejectAncestorLimit, "a chain past the ancestor limit")

	// Non-final transaction.
	notFinal := makeTx(t, 4, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_900},
	}, nil)
	notFinal.LockTime = h.tip.height + 100
	notFinal = resign(t, notFinal)
	wantReject(t, h.pool.Admit(notFinal), database.RejectNonFinal, "a time locked transaction")

	// Expired conversion deadline.
	expired := makeTx(t, 5, []database.OutPoint{ops[1]}, []database.TxOut{
		{Currency: currency.Cash, Value: 10},
		{OwnerID: acct1, Currency: currency.Bond, Value: 100},
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_700},
	}, &database.ConversionDecl{RemainderType: currency.Bond, Deadline: h.tip.height - 1, RemainderOwner: acct1})
	wantReject(t, h.pool.Admit(expired), database.RejectExpiredConversion, "a conversion past its deadline")

	// A stranger's coin.
	strangerOp := database.OutPoint{TxID: "0xother", Index: 0}
	h.view.coins[strangerOp] = database.Coin{
		Out:    database.TxOut{OwnerID: acct2, Currency: currency.Cash, Value: 1_000},
		Height: 1,
	}
	theft := makeTx(t, 6, []database.OutPoint{strangerOp}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 900},
	}, nil)
	wantReject(t, h.pool.Admit(theft), database.RejectMissingOrSpent, "a spend of someone else's coin")

	h.pool.Check(h.view)
}

// resign rebuilds the signature after the test mutated the transaction.
func resign(t *testing.T, tx database.BlockTx) database.BlockTx {
	t.Helper()

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to parse the private key: %v", failed, err)
	}
	signedTx, err := tx.Tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to re-sign the transaction: %v", failed, err)
	}
	return database.NewBlockTx(signedTx, tx.TimeStamp)
}

func Test_RemoveForBlock(t *testing.T) {
	t.Log("Given the need to update the pool when a block connects.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000, 5_000})

	txA := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	txB := makeTx(t, 2, []database.OutPoint{{TxID: txA.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_700},
	}, nil)
	conflicted := makeTx(t, 3, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_900},
	}, nil)

	h.admit(t, txA)
	h.admit(t, txB)
	h.admit(t, conflicted)

	// The block mines txA and a competing spend of the conflicted
	// transaction's input.
	competitor := makeTx(t, 7, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct2, Currency: currency.Cash, Value: 4_500},
	}, nil)

	newSupply := currency.Amounts{currency.Cash: 11_000, currency.Bond: 9_000}
	h.pool.RemoveForBlock([]database.BlockTx{txA, competitor}, 11, newSupply)

	if h.pool.HasTx(txA.TxID()) {
		t.Fatalf("\t%s\tTest 0:\tShould drop the mined transaction.", failed)
	}
	if h.pool.HasTx(conflicted.TxID()) {
		t.Fatalf("\t%s\tTest 0:\tShould drop the conflicted transaction.", failed)
	}
	if !h.pool.HasTx(txB.TxID()) {
		t.Fatalf("\t%s\tTest 0:\tShould keep the mined transaction's child.", failed)
	}
	t.Logf("\t%s\tTest 0:\tShould drop mined and conflicted transactions and keep the child.", success)

	infoB, _ := h.pool.Info(txB.TxID())
	if infoB.CountWithAncestors != 1 || infoB.FeesWithAncestors[currency.Cash] != 200 {
		t.Fatalf("\t%s\tTest 1:\tShould rebase the child's ancestor aggregates, got count %d fees %d.",
			failed, infoB.CountWithAncestors, infoB.FeesWithAncestors[currency.Cash])
	}
	t.Logf("\t%s\tTest 1:\tShould rebase the child's ancestor aggregates.", success)

	if h.estimator.blocks != 1 || len(h.estimator.mined) != 1 || h.estimator.mined[0] != txA.TxID() {
		t.Fatalf("\t%s\tTest 2:\tShould feed the mined entry to the fee estimator.", failed)
	}
	t.Logf("\t%s\tTest 2:\tShould feed the mined entry to the fee estimator.", success)

	if supply := h.pool.CachedSupply(); supply != newSupply {
		t.Fatalf("\t%s\tTest 3:\tShould cache the new supply, got %s.", failed, supply)
	}
	t.Logf("\t%s\tTest 3:\tShould cache the new supply.", success)

	h.pool.Check(h.view)
}

func Test_RemovalIdempotence(t *testing.T) {
	t.Log("Given the need for removal to be safe to repeat.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000})

	txA := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	txB := makeTx(t, 2, []database.OutPoint{{TxID: txA.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_700},
	}, nil)

	h.admit(t, txA)
	h.admit(t, txB)

	h.pool.RemoveRecursive(txA.Tx, mempool.ReasonReorg)
	if h.pool.Size() != 0 {
		t.Fatalf("\t%s\tTest 0:\tShould remove the transaction and its descendant, %d left.", failed, h.pool.Size())
	}
	t.Logf("\t%s\tTest 0:\tShould remove the transaction and its descendant.", success)

	h.pool.RemoveRecursive(txA.Tx, mempool.ReasonReorg)
	if h.pool.Size() != 0 || h.pool.TotalTxBytes() != 0 {
		t.Fatalf("\t%s\tTest 1:\tShould treat a repeated removal as a no-op.", failed)
	}
	t.Logf("\t%s\tTest 1:\tShould treat a repeated removal as a no-op.", success)

	// Removal keys off the transaction's outputs, so a transaction the
	// pool never saw and nothing spends is a no-op.
	h.admit(t, txA)
	h.admit(t, txB)
	if h.pool.Size() != 2 {
		t.Fatalf("\t%s\tTest 2:\tShould be able to readmit after removal, %d in pool.", failed, h.pool.Size())
	}

	unrelated := database.Tx{ChainID: 1, Outputs: []database.TxOut{{OwnerID: acct1, Currency: currency.Cash, Value: 1}}}
	h.pool.RemoveRecursive(unrelated, mempool.ReasonConflict)
	if h.pool.Size() != 2 {
		t.Fatalf("\t%s\tTest 2:\tShould not remove anything for an unrelated transaction.", failed)
	}
	t.Logf("\t%s\tTest 2:\tShould readmit after removal and ignore unrelated removals.", success)

	h.pool.Check(h.view)
}

func Test_TrimEvictionPriority(t *testing.T) {
	t.Log("Given the need to evict invalid conversions before any valid entry.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{2_000, 5_000, 5_000})

	// A conversion of 900 net cash into 800 bond, valid at the cached
	// supply of 10k/10k, carrying a high fee.
	convert := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{Currency: currency.Cash, Value: 500},
		{OwnerID: acct1, Currency: currency.Bond, Value: 800},
		{OwnerID: acct1, Currency: currency.Cash, Value: 600},
	}, &database.ConversionDecl{RemainderType: currency.Bond, RemainderOwner: acct1})

	lowFee1 := makeTx(t, 2, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_990},
	}, nil)
	lowFee2 := makeTx(t, 3, []database.OutPoint{ops[2]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_990},
	}, nil)

	h.admit(t, convert)
	h.admit(t, lowFee1)
	h.admit(t, lowFee2)

	// A supply shift leaves cash scarce, so 900 cash can no longer buy
	// 800 bond and the conversion is stranded.
	h.pool.RecomputeNormalizedFees(currency.Amounts{currency.Cash: 2_000, currency.Bond: 50_000})

	infoLow, _ := h.pool.Info(lowFee1.TxID())
	limit := h.pool.TotalTxBytes() - 1
	h.pool.TrimToSize(limit)

	if h.pool.HasTx(convert.TxID()) {
		t.Fatalf("\t%s\tTest 0:\tShould evict the stranded conversion first.", failed)
	}
	if !h.pool.HasTx(lowFee1.TxID()) || !h.pool.HasTx(lowFee2.TxID()) {
		t.Fatalf("\t%s\tTest 0:\tShould keep the valid low fee entries.", failed)
	}
	t.Logf("\t%s\tTest 0:\tShould evict the stranded conversion before any valid entry.", success)

	if rate := h.pool.GetMinFee(); rate.PerKB() != 0 {
		t.Fatalf("\t%s\tTest 1:\tShould not ratchet the fee floor for an invalid conversion, got %s.", failed, rate)
	}
	t.Logf("\t%s\tTest 1:\tShould not ratchet the fee floor for an invalid conversion.", success)

	// Trimming below the remaining size now evicts by descendant score
	// and ratchets the floor.
	h.pool.TrimToSize(infoLow.Size + 1)
	if h.pool.Size() != 1 {
		t.Fatalf("\t%s\tTest 2:\tShould keep a single entry, got %d.", failed, h.pool.Size())
	}
	if rate := h.pool.GetMinFee(); rate.PerKB() == 0 {
		t.Fatalf("\t%s\tTest 2:\tShould ratchet the fee floor after a fee based eviction.", failed)
	}
	t.Logf("\t%s\tTest 2:\tShould ratchet the fee floor after a fee based eviction.", success)

	h.pool.Check(h.view)
}

func Test_PoolFullAndFeeFloor(t *testing.T) {
	t.Log("Given the need to bound the pool's byte budget.")

	// Build the transactions first to learn their sizes, then budget the
	// pool for one and a half of them.
	highFee := makeTx(t, 1, []database.OutPoint{{TxID: "0xseed", Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 5_000},
	}, nil)
	lowFee := makeTx(t, 2, []database.OutPoint{{TxID: "0xseed", Index: 1}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_990},
	}, nil)

	h, _ := newHarness(t, mempool.Config{
		MaxPoolBytes: highFee.Size() + lowFee.Size()/2,
	}, []currency.Amount{10_000, 5_000, 5_000})

	h.admit(t, highFee)

	err := h.pool.Admit(lowFee)
	wantReject(t, err, database.RejectPoolFull, "an uncompetitive entry over the byte budget")

	if !h.pool.HasTx(highFee.TxID()) || h.pool.HasTx(lowFee.TxID()) {
		t.Fatalf("\t%s\tShould keep the high fee entry and drop the low fee one.", failed)
	}
	t.Logf("\t%s\tShould keep the high fee entry and drop the low fee one.", success)

	// The eviction ratcheted the floor, so resubmission fails fast.
	thirdTry := makeTx(t, 3, []database.OutPoint{{TxID: "0xseed", Index: 2}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_990},
	}, nil)
	wantReject(t, h.pool.Admit(thirdTry), database.RejectInsufficientFee, "a resubmission below the ratcheted floor")
}

func Test_RollingFeeDecay(t *testing.T) {
	t.Log("Given the need for the fee floor to decay after a block.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000, 5_000})

	keeper := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 5_000},
	}, nil)
	evictee := makeTx(t, 2, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_000},
	}, nil)

	h.admit(t, keeper)
	h.admit(t, evictee)

	info, _ := h.pool.Info(keeper.TxID())
	h.pool.TrimToSize(info.Size + 1)

	floor := h.pool.GetMinFee()
	if floor.PerKB() == 0 {
		t.Fatalf("\t%s\tTest 0:\tShould have a nonzero floor after eviction.", failed)
	}
	t.Logf("\t%s\tTest 0:\tShould have a nonzero floor after eviction.", success)

	// Without a connected block the floor holds steady.
	h.clock.Add(24 * time.Hour)
	if got := h.pool.GetMinFee(); got.PerKB() != floor.PerKB() {
		t.Fatalf("\t%s\tTest 1:\tShould hold the floor before a block connects, got %s want %s.", failed, got, floor)
	}
	t.Logf("\t%s\tTest 1:\tShould hold the floor before a block connects.", success)

	// A block connection starts the decay clock.
	h.pool.RemoveForBlock(nil, 11, currency.Amounts{currency.Cash: 10_000, currency.Bond: 10_000})

	h.clock.Add(time.Hour)
	decayed := h.pool.GetMinFee()
	if decayed.PerKB() >= floor.PerKB() {
		t.Fatalf("\t%s\tTest 2:\tShould decay the floor after a block, got %s want below %s.", failed, decayed, floor)
	}
	t.Logf("\t%s\tTest 2:\tShould decay the floor after a block.", success)

	// Long enough and the floor snaps to zero.
	h.clock.Add(14 * 24 * time.Hour)
	if got := h.pool.GetMinFee(); got.PerKB() != 0 {
		t.Fatalf("\t%s\tTest 3:\tShould snap the floor to zero, got %s.", failed, got)
	}
	t.Logf("\t%s\tTest 3:\tShould snap the floor to zero.", success)
}

func Test_Prioritise(t *testing.T) {
	t.Log("Given the need to adjust fees for block selection.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000, 5_000})

	txA := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	txB := makeTx(t, 2, []database.OutPoint{{TxID: txA.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_700},
	}, nil)

	h.admit(t, txA)
	h.admit(t, txB)

	h.pool.Prioritise(txA.TxID(), 1_000)

	infoA, _ := h.pool.Info(txA.TxID())
	infoB, _ := h.pool.Info(txB.TxID())

	if infoA.ModifiedFees[currency.Cash] != 1_100 || infoA.Fees[currency.Cash] != 100 {
		t.Fatalf("\t%s\tTest 0:\tShould raise the modified fee and keep the base fee, got %d/%d.",
			failed, infoA.ModifiedFees[currency.Cash], infoA.Fees[currency.Cash])
	}
	t.Logf("\t%s\tTest 0:\tShould raise the modified fee and keep the base fee.", success)

	if infoB.FeesWithAncestors[currency.Cash] != 1_300 {
		t.Fatalf("\t%s\tTest 1:\tShould propagate the delta into the child's ancestor fees, got %d.",
			failed, infoB.FeesWithAncestors[currency.Cash])
	}
	if infoA.FeesWithDescendants[currency.Cash] != 1_300 {
		t.Fatalf("\t%s\tTest 1:\tShould keep the delta in the parent's descendant fees, got %d.",
			failed, infoA.FeesWithDescendants[currency.Cash])
	}
	t.Logf("\t%s\tTest 1:\tShould propagate the delta through both aggregates.", success)

	// A delta registered before admission applies at admission.
	future := makeTx(t, 3, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_950},
	}, nil)
	h.pool.Prioritise(future.TxID(), 500)
	h.admit(t, future)

	infoF, _ := h.pool.Info(future.TxID())
	if infoF.ModifiedFees[currency.Cash] != 550 {
		t.Fatalf("\t%s\tTest 2:\tShould apply a preregistered delta at admission, got %d.",
			failed, infoF.ModifiedFees[currency.Cash])
	}
	t.Logf("\t%s\tTest 2:\tShould apply a preregistered delta at admission.", success)

	h.pool.Check(h.view)
}

func Test_Expire(t *testing.T) {
	t.Log("Given the need to expire stale transactions.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000, 5_000})

	old := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	h.admit(t, old)

	// The child arrives two hours later but dies with its parent.
	h.clock.Add(2 * time.Hour)
	child := makeTx(t, 2, []database.OutPoint{{TxID: old.TxID(), Index: 0}}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_800},
	}, nil)
	fresh := makeTx(t, 3, []database.OutPoint{ops[1]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 4_900},
	}, nil)
	h.admit(t, child)
	h.admit(t, fresh)

	removed := h.pool.Expire(h.clock.Now().Add(-time.Hour).Unix())
	if removed != 2 {
		t.Fatalf("\t%s\tTest 0:\tShould expire the old entry and its child, removed %d.", failed, removed)
	}
	if h.pool.HasTx(old.TxID()) || h.pool.HasTx(child.TxID()) || !h.pool.HasTx(fresh.TxID()) {
		t.Fatalf("\t%s\tTest 0:\tShould keep only the fresh entry.", failed)
	}
	t.Logf("\t%s\tTest 0:\tShould expire the old entry and its child and keep the fresh one.", success)

	h.pool.Check(h.view)
}

func Test_MiningSnapshot(t *testing.T) {
	t.Log("Given the need for a frozen view for block assembly.")

	h, ops := newHarness(t, mempool.Config{}, []currency.Amount{10_000})

	txA := makeTx(t, 1, []database.OutPoint{ops[0]}, []database.TxOut{
		{OwnerID: acct1, Currency: currency.Cash, Value: 9_900},
	}, nil)
	h.admit(t, txA)

	snap := h.pool.MiningSnapshot()
	if len(snap.Entries) != 1 {
		t.Fatalf("\t%s\tTest 0:\tShould capture the pool entries, got %d.", failed, len(snap.Entries))
	}
	if snap.Supply != h.pool.CachedSupply() {
		t.Fatalf("\t%s\tTest 0:\tShould capture the cached supply.", failed)
	}
	t.Logf("\t%s\tTest 0:\tShould capture entries and supply.", success)

	// Later pool changes must not reach the snapshot.
	h.pool.Prioritise(txA.TxID(), 5_000)
	entry := snap.Entries[txA.TxID()]
	if entry.ModifiedFees()[currency.Cash] != 100 {
		t.Fatalf("\t%s\tTest 1:\tShould be isolated from later pool mutation, got %d.",
			failed, entry.ModifiedFees()[currency.Cash])
	}
	t.Logf("\t%s\tTest 1:\tShould be isolated from later pool mutation.", success)
}
