// Package database handles the lower level support for maintaining the
// blockchain: the confirmed coin set, the circulating supply of the two
// currencies, and the persisted chain of blocks.
package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cashbond/blockchain/foundation/blockchain/conversion"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/genesis"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
)

// medianTimeSpan is the number of recent block timestamps the median time
// past is computed over.
const medianTimeSpan = 11

// =============================================================================

// Storage interface represents the behavior required to be implemented by
// any package providing support for storing and reading the blockchain.
type Storage interface {
	Write(blockData BlockData) error
	GetBlock(num uint64) (BlockData, error)
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by
// any package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// DatabaseIterator provides support for walking through the blocks in the
// database.
type DatabaseIterator struct {
	iterator Iterator
}

// Next retrieves the next block from storage.
func (di *DatabaseIterator) Next() (Block, error) {
	blockData, err := di.iterator.Next()
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// Done returns the end of chain value.
func (di *DatabaseIterator) Done() bool {
	return di.iterator.Done()
}

// =============================================================================

// AccountBalance represents the spendable value an account holds in each
// currency, derived from the coin set.
type AccountBalance struct {
	AccountID AccountID       `json:"account"`
	Cash      currency.Amount `json:"cash"`
	Bond      currency.Amount `json:"bond"`
}

// =============================================================================

// Database manages the confirmed state of the blockchain: every unspent
// coin, the circulating supply backing the conversion rate, and the chain
// of blocks on storage.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	latestBlock Block
	coins       map[OutPoint]Coin
	supply      currency.Amounts
	blockTimes  []uint64

	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a new database, seeds the coin set from the genesis
// balances, and replays any blocks found on storage.
func New(genesis genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	db := Database{
		genesis:   genesis,
		storage:   storage,
		evHandler: evHandler,
	}

	if err := db.resetToGenesis(); err != nil {
		return nil, err
	}

	// Replay all the blocks found on storage.
	iter := storage.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if err := db.applyBlock(block, false); err != nil {
			return nil, fmt.Errorf("replaying block %d: %w", block.Header.Number, err)
		}
	}

	return &db, nil
}

// Close closes the underlying storage.
func (db *Database) Close() {
	db.storage.Close()
}

// Reset re-initializes the database back to the genesis state, wiping the
// chain from storage.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Reset(); err != nil {
		return err
	}

	return db.resetToGenesis()
}

// resetToGenesis rebuilds the in memory state from the genesis file. The
// caller must own the write lock.
func (db *Database) resetToGenesis() error {
	db.latestBlock = Block{}
	db.coins = make(map[OutPoint]Coin)
	db.supply = db.genesis.InitialSupply.Amounts()
	db.blockTimes = []uint64{uint64(db.genesis.Date.Unix())}

	// Each genesis balance becomes one coin per funded currency, hung off
	// a synthetic outpoint derived from the account so it is stable.
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}

		for _, c := range currency.Types {
			value := balance.Amounts()[c]
			if value == 0 {
				continue
			}

			op := OutPoint{TxID: signature.Hash(accountStr), Index: uint32(c)}
			db.coins[op] = Coin{
				Out: TxOut{OwnerID: accountID, Currency: c, Value: value},
			}
		}
	}

	return nil
}

// =============================================================================
// Coin view

// AccessCoin returns the unspent coin for the specified outpoint if it
// exists.
func (db *Database) AccessCoin(op OutPoint) (Coin, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	coin, exists := db.coins[op]
	return coin, exists
}

// HasInputs reports whether every input of the transaction refers to an
// unspent coin.
func (db *Database) HasInputs(tx Tx) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, in := range tx.Inputs {
		if _, exists := db.coins[in.OutPoint]; !exists {
			return false
		}
	}

	return true
}

// =============================================================================
// Chain tip

// Height returns the block number of the latest block.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock.Header.Number
}

// TotalSupply returns the circulating supply of both currencies at the
// chain tip. This is the state the conversion rate is computed from.
func (db *Database) TotalSupply() currency.Amounts {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.supply
}

// MedianTimePast returns the median timestamp of the last eleven blocks.
func (db *Database) MedianTimePast() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return medianTime(db.blockTimes)
}

// LatestBlock returns the latest block added to the chain.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock
}

// =============================================================================
// Block application

// ApplyBlock validates the block against the current chain state, applies
// every transaction to the coin set, settles conversions against the
// circulating supply, and persists the block.
func (db *Database) ApplyBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.applyBlock(block, true)
}

// applyBlock carries the real work of ApplyBlock. Replaying from storage
// skips the persistence step. The caller must own the write lock.
func (db *Database) applyBlock(block Block, persist bool) error {
	if err := block.ValidateBlock(db.latestBlock, db.evHandler); err != nil {
		return err
	}

	txs := block.Trans.Values()
	if !txs[0].IsCoinbase() {
		return errors.New("first transaction is not the coinbase")
	}
	if txs[0].Nonce != block.Header.Number {
		return fmt.Errorf("coinbase nonce %d does not carry the block number %d", txs[0].Nonce, block.Header.Number)
	}

	height := block.Header.Number
	cutoffTime := medianTime(db.blockTimes)
	view := newBlockView(db.coins)
	workingSupply := db.supply

	var totalFees currency.Amounts
	var sigOpCost int64
	var requiredPayouts []TxOut

	for i, tx := range txs {
		if err := CheckTransaction(tx.SignedTx); err != nil {
			return fmt.Errorf("tx[%s]: %w", tx.TxID(), err)
		}

		if i == 0 {
			continue
		}

		if tx.IsCoinbase() {
			return fmt.Errorf("tx[%s]: coinbase after the first transaction", tx.TxID())
		}

		if err := tx.Validate(db.genesis.ChainID); err != nil {
			return fmt.Errorf("tx[%s]: %w", tx.TxID(), err)
		}

		if !tx.IsFinal(height, cutoffTime) {
			return fmt.Errorf("tx[%s]: not final at height %d", tx.TxID(), height)
		}

		sigOpCost += tx.SigOpCost()
		if sigOpCost > MaxBlockSigOpsCost {
			return fmt.Errorf("block signature cost exceeds the limit %d", MaxBlockSigOpsCost)
		}

		fees, convInfo, err := CheckTxInputs(tx.Tx, view, height)
		if err != nil {
			return fmt.Errorf("tx[%s]: %w", tx.TxID(), err)
		}

		// Every spent coin must belong to the account that signed the
		// transaction.
		from, err := tx.FromAccount()
		if err != nil {
			return fmt.Errorf("tx[%s]: invalid signature, %w", tx.TxID(), err)
		}
		for _, in := range tx.Inputs {
			coin, _ := view.AccessCoin(in.OutPoint)
			if coin.Out.OwnerID != from {
				return fmt.Errorf("tx[%s]: input %s not owned by signer %s", tx.TxID(), in.OutPoint, from)
			}
		}

		if convInfo != nil {
			if convInfo.Expired(height) {
				return fmt.Errorf("tx[%s]: conversion expired at height %d", tx.TxID(), height)
			}

			remainder, err := conversion.Apply(&workingSupply, convInfo.Inputs, convInfo.MinOutputs, convInfo.RemainderType)
			if err != nil {
				return fmt.Errorf("tx[%s]: %w", tx.TxID(), err)
			}

			if remainder > 0 {
				if convInfo.RemainderOwner != "" {
					requiredPayouts = append(requiredPayouts, TxOut{
						OwnerID:  convInfo.RemainderOwner,
						Currency: convInfo.RemainderType,
						Value:    remainder,
					})
				} else {
					totalFees[convInfo.RemainderType] += remainder
				}
			}
		}

		for _, c := range currency.Types {
			totalFees[c] += fees[c]
		}

		view.spend(tx.Tx)
		view.create(tx.Tx, height, false)
	}

	// The mining reward is issued against the supply every conversion in
	// the block has already settled into.
	subsidy := db.genesis.Subsidy(height, workingSupply)
	for _, c := range currency.Types {
		workingSupply[c] += subsidy[c]
		if !currency.Range(workingSupply[c]) {
			return fmt.Errorf("%s supply out of range after reward", c)
		}
	}

	if block.Header.Supply() != workingSupply {
		return fmt.Errorf("declared supply %s does not match computed %s", block.Header.Supply(), workingSupply)
	}

	if err := checkCoinbase(txs[0], totalFees, subsidy, requiredPayouts); err != nil {
		return err
	}
	view.create(txs[0].Tx, height, true)

	if persist {
		if err := db.storage.Write(NewBlockData(block)); err != nil {
			return err
		}
	}

	view.commit(db.coins)
	db.supply = workingSupply
	db.latestBlock = block
	db.blockTimes = append(db.blockTimes, block.Header.TimeStamp)
	if len(db.blockTimes) > medianTimeSpan {
		db.blockTimes = db.blockTimes[len(db.blockTimes)-medianTimeSpan:]
	}

	return nil
}

// checkCoinbase validates the coinbase pays no more than the fees plus the
// mining reward and settles every owed conversion remainder exactly.
func checkCoinbase(tx BlockTx, fees currency.Amounts, subsidy currency.Amounts, requiredPayouts []TxOut) error {
	if tx.IsConversion() {
		return errors.New("coinbase cannot be a conversion")
	}

	outs := tx.Outputs
	if len(outs) != 2+len(requiredPayouts) {
		return fmt.Errorf("coinbase has %d outputs, exp %d", len(outs), 2+len(requiredPayouts))
	}

	if outs[0].Currency != currency.Cash || outs[1].Currency != currency.Bond {
		return errors.New("coinbase base outputs are not ordered cash then bond")
	}

	for _, c := range currency.Types {
		if outs[c].Value > fees[c]+subsidy[c] {
			return fmt.Errorf("coinbase claims %d %s, allowed %d", outs[c].Value, c, fees[c]+subsidy[c])
		}
	}

	for i, required := range requiredPayouts {
		if outs[2+i] != required {
			return fmt.Errorf("coinbase output %d does not settle the owed remainder %d %s to %s", 2+i, required.Value, required.Currency, required.OwnerID)
		}
	}

	return nil
}

// =============================================================================

// RevertLatestBlock removes the latest block from the chain, rebuilding the
// coin set and supply from genesis and the remaining blocks. The reverted
// block is returned so its transactions can be reconsidered for the pool.
func (db *Database) RevertLatestBlock() (Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	reverted := db.latestBlock
	height := reverted.Header.Number
	if height == 0 {
		return Block{}, errors.New("no block to revert")
	}

	// Collect the blocks that remain, rebuild the chain state, and
	// rewrite storage without the reverted block.
	var keep []BlockData
	for num := uint64(1); num < height; num++ {
		blockData, err := db.storage.GetBlock(num)
		if err != nil {
			return Block{}, err
		}
		keep = append(keep, blockData)
	}

	if err := db.storage.Reset(); err != nil {
		return Block{}, err
	}
	if err := db.resetToGenesis(); err != nil {
		return Block{}, err
	}

	for _, blockData := range keep {
		block, err := ToBlock(blockData)
		if err != nil {
			return Block{}, err
		}
		if err := db.applyBlock(block, true); err != nil {
			return Block{}, fmt.Errorf("replaying block %d: %w", block.Header.Number, err)
		}
	}

	return reverted, nil
}

// =============================================================================
// Queries

// Balances returns the spendable value the account holds in each currency.
func (db *Database) Balances(accountID AccountID) AccountBalance {
	db.mu.RLock()
	defer db.mu.RUnlock()

	balance := AccountBalance{AccountID: accountID}
	for _, coin := range db.coins {
		if coin.Out.OwnerID != accountID {
			continue
		}
		switch coin.Out.Currency {
		case currency.Cash:
			balance.Cash += coin.Out.Value
		case currency.Bond:
			balance.Bond += coin.Out.Value
		}
	}

	return balance
}

// CopyBalances returns the balance of every funded account, sorted by
// account id.
func (db *Database) CopyBalances() []AccountBalance {
	db.mu.RLock()
	defer db.mu.RUnlock()

	totals := make(map[AccountID]*AccountBalance)
	for _, coin := range db.coins {
		balance, exists := totals[coin.Out.OwnerID]
		if !exists {
			balance = &AccountBalance{AccountID: coin.Out.OwnerID}
			totals[coin.Out.OwnerID] = balance
		}
		switch coin.Out.Currency {
		case currency.Cash:
			balance.Cash += coin.Out.Value
		case currency.Bond:
			balance.Bond += coin.Out.Value
		}
	}

	balances := make([]AccountBalance, 0, len(totals))
	for _, balance := range totals {
		balances = append(balances, *balance)
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].AccountID < balances[j].AccountID
	})

	return balances
}

// UnspentOutputs returns the coins the account can spend, sorted by
// outpoint for deterministic wallet behavior.
func (db *Database) UnspentOutputs(accountID AccountID) []UTXO {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var utxos []UTXO
	for op, coin := range db.coins {
		if coin.Out.OwnerID != accountID {
			continue
		}
		utxos = append(utxos, UTXO{OutPoint: op, Coin: coin})
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].OutPoint.TxID != utxos[j].OutPoint.TxID {
			return utxos[i].OutPoint.TxID < utxos[j].OutPoint.TxID
		}
		return utxos[i].OutPoint.Index < utxos[j].OutPoint.Index
	})

	return utxos
}

// GetBlock retrieves the specified block by number from storage.
func (db *Database) GetBlock(num uint64) (Block, error) {
	blockData, err := db.storage.GetBlock(num)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// ForEach returns an iterator to walk through all the blocks starting with
// block number 1.
func (db *Database) ForEach() DatabaseIterator {
	return DatabaseIterator{iterator: db.storage.ForEach()}
}

// =============================================================================

// blockView layers the effects of the transactions applied so far in a
// block over the confirmed coin set, so transactions can chain inside one
// block. It reads the coin map directly because the database write lock is
// already held.
type blockView struct {
	base    map[OutPoint]Coin
	created map[OutPoint]Coin
	spent   map[OutPoint]struct{}
}

func newBlockView(base map[OutPoint]Coin) *blockView {
	return &blockView{
		base:    base,
		created: make(map[OutPoint]Coin),
		spent:   make(map[OutPoint]struct{}),
	}
}

// AccessCoin implements the CoinView interface over the layered state.
func (bv *blockView) AccessCoin(op OutPoint) (Coin, bool) {
	if _, gone := bv.spent[op]; gone {
		return Coin{}, false
	}
	if coin, exists := bv.created[op]; exists {
		return coin, true
	}

	coin, exists := bv.base[op]
	return coin, exists
}

// HasInputs implements the CoinView interface over the layered state.
func (bv *blockView) HasInputs(tx Tx) bool {
	for _, in := range tx.Inputs {
		if _, exists := bv.AccessCoin(in.OutPoint); !exists {
			return false
		}
	}

	return true
}

// spend marks every input of the transaction as consumed.
func (bv *blockView) spend(tx Tx) {
	for _, in := range tx.Inputs {
		delete(bv.created, in.OutPoint)
		bv.spent[in.OutPoint] = struct{}{}
	}
}

// create adds the spendable outputs of the transaction as new coins. The
// conversion fee marker never becomes a coin.
func (bv *blockView) create(tx Tx, height uint64, coinbase bool) {
	txID := tx.TxID()
	for i, out := range tx.Outputs {
		if out.IsFeeMarker() {
			continue
		}

		op := OutPoint{TxID: txID, Index: uint32(i)}
		bv.created[op] = Coin{Out: out, Height: height, Coinbase: coinbase}
	}
}

// commit applies the layered changes to the confirmed coin set.
func (bv *blockView) commit(coins map[OutPoint]Coin) {
	for op := range bv.spent {
		delete(coins, op)
	}
	for op, coin := range bv.created {
		coins[op] = coin
	}
}

// =============================================================================

// medianTime returns the median of the specified timestamps.
func medianTime(times []uint64) uint64 {
	if len(times) == 0 {
		return 0
	}

	sorted := make([]uint64, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted[len(sorted)/2]
}
