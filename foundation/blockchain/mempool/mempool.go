// Package mempool maintains the pool of unconfirmed transactions for the
// blockchain. The pool tracks, for every entry, the full set of in-pool
// ancestors and descendants with their aggregate size, fees and signature
// cost, keeps every fee comparable across the two currencies by folding
// bond fees into cash at the current conversion rate, and enforces the
// ancestor, descendant and byte budget policies.
package mempool

import (
	"errors"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
)

// rollingFeeHalflife is the base decay half life in seconds for the
// rolling minimum fee rate after an eviction.
const rollingFeeHalflife = 60 * 60 * 12

// Defaults applied by New when the config leaves them zero.
const (
	defaultMaxPoolBytes        = 300_000_000
	defaultIncrementalFeePerKB = 1_000
)

// RemovalReason records why a transaction left the pool. The reason is
// informational, except that mined removals also feed the fee estimator.
type RemovalReason string

// Set of removal reasons.
const (
	ReasonMined             RemovalReason = "mined"
	ReasonConflict          RemovalReason = "conflict"
	ReasonReorg             RemovalReason = "reorg"
	ReasonExpired           RemovalReason = "expired"
	ReasonInvalidConversion RemovalReason = "invalid-conversion"
	ReasonSizeLimit         RemovalReason = "size-limit"
)

// =============================================================================

// ChainTip represents the behavior required from the chain state the
// pool sits on top of.
type ChainTip interface {
	Height() uint64
	MedianTimePast() uint64
	TotalSupply() currency.Amounts
}

// FeeEstimator represents the behavior required from a fee estimation
// sink. The pool only feeds it; it never reads estimates back.
type FeeEstimator interface {
	ProcessBlock(height uint64, mined []*Entry)
	ProcessTransaction(entry *Entry, validEstimate bool)
	RemoveTx(txid string)
}

type nopEstimator struct{}

func (nopEstimator) ProcessBlock(height uint64, mined []*Entry)          {}
func (nopEstimator) ProcessTransaction(entry *Entry, validEstimate bool) {}
func (nopEstimator) RemoveTx(txid string)                                {}

// =============================================================================

// Limits bounds the ancestor and descendant sets an entry may form.
type Limits struct {
	MaxAncestors       uint64
	MaxAncestorBytes   int64
	MaxDescendants     uint64
	MaxDescendantBytes int64
}

// DefaultLimits returns the standard package limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAncestors:       25,
		MaxAncestorBytes:   101_000,
		MaxDescendants:     25,
		MaxDescendantBytes: 101_000,
	}
}

// Config represents the dependencies and policy knobs for a pool.
type Config struct {
	ChainID             uint16
	ChainTip            ChainTip
	View                database.CoinView
	Estimator           FeeEstimator
	Clock               clock.Clock
	EvHandler           func(v string, args ...any)
	MaxPoolBytes        int64
	Limits              Limits
	IncrementalRelayFee currency.FeeRate
}

// Pool manages the set of unconfirmed transactions. All mutating
// operations and any reader that needs a consistent snapshot run under
// one exclusive section.
type Pool struct {
	mu sync.RWMutex

	chainID        uint16
	tip            ChainTip
	view           database.CoinView
	estimator      FeeEstimator
	clock          clock.Clock
	evHandler      func(v string, args ...any)
	maxBytes       int64
	limits         Limits
	incrementalFee currency.FeeRate

	entries     map[string]*Entry
	spentBy     map[database.OutPoint]string
	deltas      map[string]currency.Amount
	totalSupply currency.Amounts
	totalBytes  int64
	totalFees   currency.Amounts
	txUpdated   uint64

	rollingMinFee      float64
	lastRollingFeeBump int64
	blockSinceFeeBump  bool
}

// New constructs a pool over the specified chain state.
func New(cfg Config) (*Pool, error) {
	if cfg.ChainTip == nil || cfg.View == nil {
		return nil, errors.New("mempool: chain tip and coin view are required")
	}

	if cfg.Estimator == nil {
		cfg.Estimator = nopEstimator{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}
	if cfg.MaxPoolBytes == 0 {
		cfg.MaxPoolBytes = defaultMaxPoolBytes
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.IncrementalRelayFee == (currency.FeeRate{}) {
		cfg.IncrementalRelayFee = currency.NewFeeRate(defaultIncrementalFeePerKB)
	}

	mp := Pool{
		chainID:        cfg.ChainID,
		tip:            cfg.ChainTip,
		view:           cfg.View,
		estimator:      cfg.Estimator,
		clock:          cfg.Clock,
		evHandler:      cfg.EvHandler,
		maxBytes:       cfg.MaxPoolBytes,
		limits:         cfg.Limits,
		incrementalFee: cfg.IncrementalRelayFee,

		entries:     make(map[string]*Entry),
		spentBy:     make(map[database.OutPoint]string),
		deltas:      make(map[string]currency.Amount),
		totalSupply: cfg.ChainTip.TotalSupply(),
	}

	return &mp, nil
}

// =============================================================================

// Admit validates the transaction against the pool's policies and, when
// it passes, links it into the ancestry graph. A rejection leaves the
// pool exactly as it was before the call.
func (mp *Pool) Admit(tx database.BlockTx) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	txid := tx.TxID()
	if _, exists := mp.entries[txid]; exists {
		return database.Rejectf(database.RejectAlreadyKnown, "transaction %s is already in the pool", txid)
	}

	if err := database.CheckTransaction(tx.SignedTx); err != nil {
		return err
	}
	if err := tx.Validate(mp.chainID); err != nil {
		return database.Rejectf(database.RejectMalformed, "%s", err)
	}

	height := mp.tip.Height()
	nextHeight := height + 1

	if !tx.IsFinal(nextHeight, mp.tip.MedianTimePast()) {
		return database.Rejectf(database.RejectNonFinal, "transaction %s is not final at height %d", txid, nextHeight)
	}

	// A double spend against another pool transaction is refused rather
	// than replaced.
	for _, in := range tx.Inputs {
		if spender, ok := mp.spentBy[in.OutPoint]; ok {
			return database.Rejectf(database.RejectDuplicateInput, "input %s already spent by pool transaction %s", in.OutPoint, spender)
		}
	}

	view := poolView{pool: mp, height: nextHeight}
	fees, convInfo, err := database.CheckTxInputs(tx.Tx, view, nextHeight)
	if err != nil {
		return err
	}

	if convInfo != nil && convInfo.Expired(nextHeight) {
		return database.Rejectf(database.RejectExpiredConversion, "conversion deadline %d has passed at height %d", convInfo.Deadline, nextHeight)
	}

	from, err := tx.FromAccount()
	if err != nil {
		return database.Rejectf(database.RejectMalformed, "invalid signature: %s", err)
	}

	spendsCoinbase := false
	for _, in := range tx.Inputs {
		coin, _ := view.AccessCoin(in.OutPoint)
		if coin.Out.OwnerID != from {
			return database.Rejectf(database.RejectMissingOrSpent, "input %s not owned by signer %s", in.OutPoint, from)
		}
		if coin.Coinbase {
			spendsCoinbase = true
		}
	}

	entry := newEntry(tx, fees, mp.clock.Now().Unix(), height, spendsCoinbase, tx.SigOpCost(), convInfo, mp.totalSupply)
	if delta, ok := mp.deltas[txid]; ok && delta != 0 {
		entry.updateModifiedFee(delta, mp.totalSupply)
	}

	if minRate := mp.getMinFeeLocked(); minRate.PerKB() > 0 && entry.normalizedModFee < minRate.Fee(entry.size) {
		return database.Rejectf(database.RejectInsufficientFee, "fee %d below pool minimum rate %s", entry.normalizedModFee, minRate)
	}

	parents := make(map[string]*Entry)
	for _, in := range tx.Inputs {
		if p, ok := mp.entries[in.OutPoint.TxID]; ok {
			parents[p.txid] = p
		}
	}

	ancestors, err := mp.calculateAncestorsLocked(entry, parents, true)
	if err != nil {
		return err
	}

	mp.addEntryLocked(entry, parents, ancestors)

	mp.trimToSizeLocked(mp.maxBytes)
	if _, kept := mp.entries[txid]; !kept {
		return database.Rejectf(database.RejectPoolFull, "pool is over its byte budget and the fee rate is not competitive")
	}

	mp.evHandler("mempool: admit: tx[%s] size[%d] fees[%s]", txid, entry.size, fees)

	return nil
}

// addEntryLocked links a fully validated entry into the pool.
func (mp *Pool) addEntryLocked(entry *Entry, parents map[string]*Entry, ancestors map[string]*Entry) {
	mp.entries[entry.txid] = entry
	for _, in := range entry.tx.Inputs {
		mp.spentBy[in.OutPoint] = entry.txid
	}

	for pid, p := range parents {
		entry.parents[pid] = struct{}{}
		p.children[entry.txid] = struct{}{}
	}

	// Every ancestor gains this entry as a descendant, and the entry
	// absorbs the ancestor totals.
	for _, a := range ancestors {
		a.updateDescendantState(entry.size, entry.modifiedFees, 1, mp.totalSupply)
	}

	var ancSize, ancSigOps int64
	var ancFees currency.Amounts
	for _, a := range ancestors {
		ancSize += a.size
		ancSigOps += a.sigOpCost
		for _, c := range currency.Types {
			ancFees[c] = currency.SaturatingAdd(ancFees[c], a.modifiedFees[c])
		}
	}
	if len(ancestors) > 0 {
		entry.updateAncestorState(ancSize, ancFees, int64(len(ancestors)), ancSigOps, mp.totalSupply)
	}

	mp.totalBytes += entry.size
	for _, c := range currency.Types {
		mp.totalFees[c] = currency.SaturatingAdd(mp.totalFees[c], entry.fees[c])
	}
	mp.txUpdated++

	mp.estimator.ProcessTransaction(entry, len(ancestors) == 0 && !entry.spendsCoinbase)
}

// calculateAncestorsLocked walks the parent edges breadth first and
// returns the full ancestor set. With enforceLimits it rejects when the
// candidate would break the ancestor budget or push any ancestor over
// its descendant budget.
func (mp *Pool) calculateAncestorsLocked(entry *Entry, parents map[string]*Entry, enforceLimits bool) (map[string]*Entry, error) {
	ancestors := make(map[string]*Entry)
	stage := make([]*Entry, 0, len(parents))
	for _, p := range parents {
		stage = append(stage, p)
	}

	totalSize := entry.size

	for len(stage) > 0 {
		a := stage[len(stage)-1]
		stage = stage[:len(stage)-1]
		if _, seen := ancestors[a.txid]; seen {
			continue
		}
		ancestors[a.txid] = a
		totalSize += a.size

		if enforceLimits {
			if a.sizeWithDescendants+entry.size > mp.limits.MaxDescendantBytes {
				return nil, database.Rejectf(database.RejectDescendantLimit, "ancestor %s descendant size %d would exceed %d", a.txid, a.sizeWithDescendants+entry.size, mp.limits.MaxDescendantBytes)
			}
			if a.countWithDescendants+1 > mp.limits.MaxDescendants {
				return nil, database.Rejectf(database.RejectDescendantLimit, "ancestor %s would exceed %d descendants", a.txid, mp.limits.MaxDescendants)
			}
			if totalSize > mp.limits.MaxAncestorBytes {
				return nil, database.Rejectf(database.RejectAncestorLimit, "ancestor size %d would exceed %d", totalSize, mp.limits.MaxAncestorBytes)
			}
			if uint64(len(ancestors))+1 > mp.limits.MaxAncestors {
				return nil, database.Rejectf(database.RejectAncestorLimit, "would exceed %d ancestors", mp.limits.MaxAncestors)
			}
		}

		for pid := range a.parents {
			if _, seen := ancestors[pid]; !seen {
				stage = append(stage, mp.entries[pid])
			}
		}
	}

	return ancestors, nil
}

// ancestorsOfLocked returns the ancestor set of an entry already linked
// into the pool, without limit enforcement.
func (mp *Pool) ancestorsOfLocked(entry *Entry) map[string]*Entry {
	parents := make(map[string]*Entry, len(entry.parents))
	for pid := range entry.parents {
		parents[pid] = mp.entries[pid]
	}

	ancestors, _ := mp.calculateAncestorsLocked(entry, parents, false)
	return ancestors
}

// CalculateDescendants returns a copy of the entry's descendant set, the
// entry itself included. When exclude is supplied, any entry it reports
// true for is pruned along with everything only reachable through it.
func (mp *Pool) CalculateDescendants(txid string, exclude func(*Entry) bool) map[string]*Entry {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entry, ok := mp.entries[txid]
	if !ok {
		return nil
	}

	descendants := make(map[string]*Entry)
	for id, d := range mp.calculateDescendantsLocked(entry, exclude) {
		descendants[id] = d.clone()
	}
	return descendants
}

func (mp *Pool) calculateDescendantsLocked(entry *Entry, exclude func(*Entry) bool) map[string]*Entry {
	result := make(map[string]*Entry)
	if exclude != nil && exclude(entry) {
		return result
	}

	stage := []*Entry{entry}
	for len(stage) > 0 {
		e := stage[len(stage)-1]
		stage = stage[:len(stage)-1]
		if _, seen := result[e.txid]; seen {
			continue
		}
		result[e.txid] = e

		for cid := range e.children {
			c := mp.entries[cid]
			if exclude != nil && exclude(c) {
				continue
			}
			if _, seen := result[cid]; !seen {
				stage = append(stage, c)
			}
		}
	}

	return result
}

// =============================================================================

// RemoveRecursive removes the transaction and every pool transaction
// that descends from it. Removing a transaction that is not in the pool
// still removes any pool transactions spending its outputs; removing
// nothing is a no-op.
func (mp *Pool) RemoveRecursive(tx database.Tx, reason RemovalReason) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.removeRecursiveLocked(tx, reason)
}

func (mp *Pool) removeRecursiveLocked(tx database.Tx, reason RemovalReason) {
	txid := tx.TxID()
	stage := make(map[string]*Entry)

	if entry, ok := mp.entries[txid]; ok {
		maps.Copy(stage, mp.calculateDescendantsLocked(entry, nil))
	} else {
		for i := range tx.Outputs {
			op := database.OutPoint{TxID: txid, Index: uint32(i)}
			if spender, ok := mp.spentBy[op]; ok {
				maps.Copy(stage, mp.calculateDescendantsLocked(mp.entries[spender], nil))
			}
		}
	}

	mp.removeStagedLocked(stage, false, reason)
}

// removeConflictsLocked removes every pool transaction spending an
// outpoint the specified transaction also spends, descendants included.
func (mp *Pool) removeConflictsLocked(tx database.Tx) {
	for _, in := range tx.Inputs {
		if spender, ok := mp.spentBy[in.OutPoint]; ok {
			mp.removeRecursiveLocked(mp.entries[spender].tx.Tx, ReasonConflict)
		}
	}
}

// removeStagedLocked fixes the aggregates for everything staying behind
// and then erases the staged set. With updateDescendants the remaining
// descendants of each staged entry also lose its ancestor contribution,
// which is only correct when those descendants are not being removed
// themselves.
func (mp *Pool) removeStagedLocked(stage map[string]*Entry, updateDescendants bool, reason RemovalReason) {
	if len(stage) == 0 {
		return
	}

	if updateDescendants {
		for _, rem := range stage {
			for id, d := range mp.calculateDescendantsLocked(rem, nil) {
				if id == rem.txid {
					continue
				}
				if _, staged := stage[id]; staged {
					continue
				}
				d.updateAncestorState(-rem.size, negated(rem.modifiedFees), -1, -rem.sigOpCost, mp.totalSupply)
			}
		}
	}

	for _, rem := range stage {
		for _, a := range mp.ancestorsOfLocked(rem) {
			a.updateDescendantState(-rem.size, negated(rem.modifiedFees), -1, mp.totalSupply)
		}
	}

	for _, rem := range stage {
		mp.removeUncheckedLocked(rem, reason)
	}
}

// removeUncheckedLocked erases a single entry without touching any other
// entry's aggregates.
func (mp *Pool) removeUncheckedLocked(entry *Entry, reason RemovalReason) {
	if reason != ReasonMined {
		mp.estimator.RemoveTx(entry.txid)
	}

	for _, in := range entry.tx.Inputs {
		delete(mp.spentBy, in.OutPoint)
	}
	for pid := range entry.parents {
		if p, ok := mp.entries[pid]; ok {
			delete(p.children, entry.txid)
		}
	}
	for cid := range entry.children {
		if c, ok := mp.entries[cid]; ok {
			delete(c.parents, entry.txid)
		}
	}

	mp.totalBytes -= entry.size
	for _, c := range currency.Types {
		mp.totalFees[c] -= entry.fees[c]
	}
	delete(mp.entries, entry.txid)
	mp.txUpdated++

	mp.evHandler("mempool: remove: tx[%s] reason[%s]", entry.txid, reason)
}

// =============================================================================

// RemoveForBlock updates the pool for a newly connected block: mined
// transactions leave the pool, conflicts are evicted, conversions that
// the new supply or height invalidated are swept, and every remaining
// fee is renormalized against the new supply.
func (mp *Pool) RemoveForBlock(blockTxs []database.BlockTx, height uint64, newSupply currency.Amounts) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var mined []*Entry
	for _, btx := range blockTxs {
		if e, ok := mp.entries[btx.TxID()]; ok {
			mined = append(mined, e)
		}
	}
	mp.estimator.ProcessBlock(height, mined)

	for _, btx := range blockTxs {
		txid := btx.TxID()
		if entry, ok := mp.entries[txid]; ok {
			stage := map[string]*Entry{txid: entry}
			mp.removeStagedLocked(stage, true, ReasonMined)
		}
		mp.removeConflictsLocked(btx.Tx)
		delete(mp.deltas, txid)
	}

	mp.lastRollingFeeBump = mp.clock.Now().Unix()
	mp.blockSinceFeeBump = true

	// Conversions that can no longer make the next block are swept,
	// first by deadline and then by validity against the new supply.
	var expired []*Entry
	for _, e := range mp.entries {
		if e.conversion != nil && e.conversion.Expired(height+1) {
			expired = append(expired, e)
		}
	}
	stage := make(map[string]*Entry)
	for _, e := range expired {
		maps.Copy(stage, mp.calculateDescendantsLocked(e, nil))
	}
	mp.removeStagedLocked(stage, false, ReasonExpired)

	var invalid []*Entry
	for _, e := range mp.entries {
		if e.conversion != nil && database.ValidConversion(newSupply, *e.conversion) != nil {
			invalid = append(invalid, e)
		}
	}
	stage = make(map[string]*Entry)
	for _, e := range invalid {
		maps.Copy(stage, mp.calculateDescendantsLocked(e, nil))
	}
	mp.removeStagedLocked(stage, false, ReasonInvalidConversion)

	mp.totalSupply = newSupply
	for _, e := range mp.entries {
		e.updateNormalizedFee(newSupply)
	}
}

// RemoveForReorg evicts everything the chain rewind made unminable:
// transactions no longer final at the new height, spends of coinbase
// outputs that lost their maturity, and spends of coins that no longer
// exist. Fees are renormalized against the reverted supply.
func (mp *Pool) RemoveForReorg(view database.CoinView, height uint64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mtp := mp.tip.MedianTimePast()
	nextHeight := height + 1

	stillMinable := func(e *Entry) bool {
		if !e.tx.IsFinal(nextHeight, mtp) {
			return false
		}
		for _, in := range e.tx.Inputs {
			if _, inPool := mp.entries[in.OutPoint.TxID]; inPool {
				continue
			}
			coin, ok := view.AccessCoin(in.OutPoint)
			if !ok {
				return false
			}
			if coin.Coinbase && nextHeight-coin.Height < database.CoinbaseMaturity {
				return false
			}
		}
		return true
	}

	stage := make(map[string]*Entry)
	for _, e := range mp.entries {
		if !stillMinable(e) {
			maps.Copy(stage, mp.calculateDescendantsLocked(e, nil))
		}
	}
	mp.removeStagedLocked(stage, false, ReasonReorg)

	mp.totalSupply = mp.tip.TotalSupply()
	for _, e := range mp.entries {
		e.updateNormalizedFee(mp.totalSupply)
	}
}

// Expire removes every entry older than the cutoff, descendants
// included, and returns how many entries were removed.
func (mp *Pool) Expire(cutoff int64) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var old []*Entry
	for _, e := range mp.entries {
		if e.time < cutoff {
			old = append(old, e)
		}
	}

	stage := make(map[string]*Entry)
	for _, e := range old {
		maps.Copy(stage, mp.calculateDescendantsLocked(e, nil))
	}
	mp.removeStagedLocked(stage, false, ReasonExpired)

	return len(stage)
}

// =============================================================================

// TrimToSize evicts entries until the pool fits the byte limit. Entries
// whose conversion is invalid at the cached supply go first regardless
// of fee; after that the lowest descendant score goes, each eviction
// ratcheting the rolling minimum fee rate.
func (mp *Pool) TrimToSize(limit int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.trimToSizeLocked(limit)
}

func (mp *Pool) trimToSizeLocked(limit int64) {
	if mp.totalBytes <= limit {
		return
	}

	for _, e := range mp.sortedByDescendantScoreLocked() {
		if mp.totalBytes <= limit {
			return
		}
		if _, present := mp.entries[e.txid]; !present {
			continue
		}
		if e.conversion == nil || database.ValidConversion(mp.totalSupply, *e.conversion) == nil {
			continue
		}
		mp.removeStagedLocked(mp.calculateDescendantsLocked(e, nil), false, ReasonSizeLimit)
	}

	for mp.totalBytes > limit {
		order := mp.sortedByDescendantScoreLocked()
		if len(order) == 0 {
			return
		}
		worst := order[0]

		rate := currency.NewFeeRateFromPaid(worst.normFeesWithDescendants, worst.sizeWithDescendants).Add(mp.incrementalFee)
		mp.trackPackageRemovedLocked(rate)

		mp.removeStagedLocked(mp.calculateDescendantsLocked(worst, nil), false, ReasonSizeLimit)
	}
}

// trackPackageRemovedLocked ratchets the rolling minimum fee rate up to
// the evicted package's rate.
func (mp *Pool) trackPackageRemovedLocked(rate currency.FeeRate) {
	if float64(rate.PerKB()) > mp.rollingMinFee {
		mp.rollingMinFee = float64(rate.PerKB())
		mp.blockSinceFeeBump = false
	}
}

// GetMinFee returns the minimum fee rate the pool will accept. The
// rolling rate set by evictions decays exponentially once a block has
// been connected, halving faster as the pool drains, and snaps to zero
// when it falls below half the incremental relay fee.
func (mp *Pool) GetMinFee() currency.FeeRate {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return mp.getMinFeeLocked()
}

func (mp *Pool) getMinFeeLocked() currency.FeeRate {
	if !mp.blockSinceFeeBump || mp.rollingMinFee == 0 {
		return currency.NewFeeRate(currency.Amount(mp.rollingMinFee))
	}

	now := mp.clock.Now().Unix()
	if now > mp.lastRollingFeeBump+10 {
		halflife := int64(rollingFeeHalflife)
		switch {
		case mp.totalBytes < mp.maxBytes/4:
			halflife /= 4
		case mp.totalBytes < mp.maxBytes/2:
			halflife /= 2
		}

		mp.rollingMinFee /= math.Pow(2.0, float64(now-mp.lastRollingFeeBump)/float64(halflife))
		mp.lastRollingFeeBump = now

		if mp.rollingMinFee < float64(mp.incrementalFee.PerKB())/2 {
			mp.rollingMinFee = 0
			return currency.NewFeeRate(0)
		}
	}

	if rate := currency.Amount(mp.rollingMinFee); rate > mp.incrementalFee.PerKB() {
		return currency.NewFeeRate(rate)
	}
	return mp.incrementalFee
}

// =============================================================================

// Prioritise adjusts the transaction's modified fee by a cash
// denominated delta. The delta is remembered and reapplied if the
// transaction is admitted later, and propagates through the aggregates
// of its current ancestors and descendants.
func (mp *Pool) Prioritise(txid string, delta currency.Amount) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.deltas[txid] = currency.SaturatingAdd(mp.deltas[txid], delta)

	if entry, ok := mp.entries[txid]; ok {
		entry.updateModifiedFee(delta, mp.totalSupply)

		feeDelta := currency.Amounts{currency.Cash: delta}
		for _, a := range mp.ancestorsOfLocked(entry) {
			a.updateDescendantState(0, feeDelta, 0, mp.totalSupply)
		}
		for id, d := range mp.calculateDescendantsLocked(entry, nil) {
			if id == txid {
				continue
			}
			d.updateAncestorState(0, feeDelta, 0, 0, mp.totalSupply)
		}
		mp.txUpdated++
	}

	mp.evHandler("mempool: prioritise: tx[%s] delta[%d] total[%d]", txid, delta, mp.deltas[txid])
}

// RecomputeNormalizedFees replaces the cached supply and renormalizes
// every entry's fees against it.
func (mp *Pool) RecomputeNormalizedFees(newSupply currency.Amounts) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.totalSupply = newSupply
	for _, e := range mp.entries {
		e.updateNormalizedFee(newSupply)
	}
}

// =============================================================================

// Check walks the whole pool and verifies every cached aggregate, every
// graph edge and every index against a fresh recomputation. Any mismatch
// means pool state can no longer be trusted, so it panics.
func (mp *Pool) Check(view database.CoinView) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var totalBytes int64
	var totalFees currency.Amounts

	for _, e := range mp.entries {
		totalBytes += e.size
		for _, c := range currency.Types {
			totalFees[c] += e.fees[c]
		}

		parentsFromInputs := make(map[string]struct{})
		for _, in := range e.tx.Inputs {
			if p, ok := mp.entries[in.OutPoint.TxID]; ok {
				parentsFromInputs[p.txid] = struct{}{}
				if _, linked := p.children[e.txid]; !linked {
					panic("mempool: check: missing child link " + p.txid + " -> " + e.txid)
				}
			} else if _, ok := view.AccessCoin(in.OutPoint); !ok {
				panic("mempool: check: entry " + e.txid + " spends unknown input " + in.OutPoint.String())
			}
			if mp.spentBy[in.OutPoint] != e.txid {
				panic("mempool: check: spent-by index inconsistent for " + in.OutPoint.String())
			}
		}
		if !maps.Equal(parentsFromInputs, e.parents) {
			panic("mempool: check: parent set inconsistent for " + e.txid)
		}

		for pid := range e.parents {
			if mp.entries[pid].countWithAncestors >= e.countWithAncestors {
				panic("mempool: check: ancestor count not increasing along edge " + pid + " -> " + e.txid)
			}
		}

		ancestors := mp.ancestorsOfLocked(e)
		ancSize, ancSigOps := e.size, e.sigOpCost
		ancFees := e.modifiedFees
		for _, a := range ancestors {
			ancSize += a.size
			ancSigOps += a.sigOpCost
			for _, c := range currency.Types {
				ancFees[c] += a.modifiedFees[c]
			}
		}
		if ancSize != e.sizeWithAncestors || uint64(len(ancestors))+1 != e.countWithAncestors ||
			ancSigOps != e.sigOpCostWithAncestors || ancFees != e.feesWithAncestors {
			panic("mempool: check: ancestor aggregates inconsistent for " + e.txid)
		}

		descendants := mp.calculateDescendantsLocked(e, nil)
		var descSize int64
		var descFees currency.Amounts
		for _, d := range descendants {
			descSize += d.size
			for _, c := range currency.Types {
				descFees[c] += d.modifiedFees[c]
			}
		}
		if descSize != e.sizeWithDescendants || uint64(len(descendants)) != e.countWithDescendants ||
			descFees != e.feesWithDescendants {
			panic("mempool: check: descendant aggregates inconsistent for " + e.txid)
		}
	}

	if totalBytes != mp.totalBytes {
		panic("mempool: check: total byte accounting inconsistent")
	}
	if totalFees != mp.totalFees {
		panic("mempool: check: total fee accounting inconsistent")
	}
}

// =============================================================================

// EntryInfo is a point in time snapshot of a pool entry.
type EntryInfo struct {
	TxID                    string                   `json:"txid"`
	Tx                      database.BlockTx         `json:"tx"`
	Size                    int64                    `json:"size"`
	SigOpCost               int64                    `json:"sigop_cost"`
	Time                    int64                    `json:"time"`
	Height                  uint64                   `json:"height"`
	SpendsCoinbase          bool                     `json:"spends_coinbase"`
	Fees                    currency.Amounts         `json:"fees"`
	ModifiedFees            currency.Amounts         `json:"modified_fees"`
	NormalizedFee           currency.Amount          `json:"normalized_fee"`
	NormalizedModFee        currency.Amount          `json:"normalized_mod_fee"`
	SizeWithDescendants     int64                    `json:"size_with_descendants"`
	CountWithDescendants    uint64                   `json:"count_with_descendants"`
	FeesWithDescendants     currency.Amounts         `json:"fees_with_descendants"`
	NormFeesWithDescendants currency.Amount          `json:"norm_fees_with_descendants"`
	SizeWithAncestors       int64                    `json:"size_with_ancestors"`
	CountWithAncestors      uint64                   `json:"count_with_ancestors"`
	FeesWithAncestors       currency.Amounts         `json:"fees_with_ancestors"`
	NormFeesWithAncestors   currency.Amount          `json:"norm_fees_with_ancestors"`
	SigOpCostWithAncestors  int64                    `json:"sigop_cost_with_ancestors"`
	Parents                 []string                 `json:"parents"`
	Children                []string                 `json:"children"`
	Conversion              *database.ConversionInfo `json:"conversion,omitempty"`
}

// Info returns a snapshot of the specified entry.
func (mp *Pool) Info(txid string) (EntryInfo, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	e, ok := mp.entries[txid]
	if !ok {
		return EntryInfo{}, false
	}

	info := EntryInfo{
		TxID:                    e.txid,
		Tx:                      e.tx,
		Size:                    e.size,
		SigOpCost:               e.sigOpCost,
		Time:                    e.time,
		Height:                  e.height,
		SpendsCoinbase:          e.spendsCoinbase,
		Fees:                    e.fees,
		ModifiedFees:            e.modifiedFees,
		NormalizedFee:           e.normalizedFee,
		NormalizedModFee:        e.normalizedModFee,
		SizeWithDescendants:     e.sizeWithDescendants,
		CountWithDescendants:    e.countWithDescendants,
		FeesWithDescendants:     e.feesWithDescendants,
		NormFeesWithDescendants: e.normFeesWithDescendants,
		SizeWithAncestors:       e.sizeWithAncestors,
		CountWithAncestors:      e.countWithAncestors,
		FeesWithAncestors:       e.feesWithAncestors,
		NormFeesWithAncestors:   e.normFeesWithAncestors,
		SigOpCostWithAncestors:  e.sigOpCostWithAncestors,
		Parents:                 e.ParentIDs(),
		Children:                e.ChildIDs(),
		Conversion:              e.conversion,
	}
	sort.Strings(info.Parents)
	sort.Strings(info.Children)

	return info, true
}

// HasTx reports whether the transaction is in the pool.
func (mp *Pool) HasTx(txid string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, ok := mp.entries[txid]
	return ok
}

// GetTx returns the pool's copy of the transaction.
func (mp *Pool) GetTx(txid string) (database.BlockTx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	e, ok := mp.entries[txid]
	if !ok {
		return database.BlockTx{}, false
	}
	return e.tx, true
}

// TxIDs returns every pool transaction id in block inclusion order.
func (mp *Pool) TxIDs() []string {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	ordered := mp.sortedByAncestorScoreLocked()
	ids := make([]string, len(ordered))
	for i, e := range ordered {
		ids[i] = e.txid
	}
	return ids
}

// Size returns the number of transactions in the pool.
func (mp *Pool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.entries)
}

// TotalTxBytes returns the summed serialized size of the pool.
func (mp *Pool) TotalTxBytes() int64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.totalBytes
}

// TotalFees returns the summed declared fees of the pool.
func (mp *Pool) TotalFees() currency.Amounts {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.totalFees
}

// CachedSupply returns the supply the pool is currently normalizing
// fees against.
func (mp *Pool) CachedSupply() currency.Amounts {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.totalSupply
}

// TransactionsUpdated returns the monotonic change counter.
func (mp *Pool) TransactionsUpdated() uint64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.txUpdated
}

// =============================================================================

// Snapshot is a deep copy of the pool taken under its exclusive section,
// so block assembly can read a frozen view without holding the pool up.
type Snapshot struct {
	Entries    map[string]*Entry
	Supply     currency.Amounts
	MinFeeRate currency.FeeRate
}

// MiningSnapshot captures the current entries, cached supply and minimum
// fee rate in one consistent cut.
func (mp *Pool) MiningSnapshot() Snapshot {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	entries := make(map[string]*Entry, len(mp.entries))
	for id, e := range mp.entries {
		entries[id] = e.clone()
	}

	return Snapshot{
		Entries:    entries,
		Supply:     mp.totalSupply,
		MinFeeRate: mp.getMinFeeLocked(),
	}
}

// =============================================================================

// poolView resolves coins through the pool first and falls back to the
// confirmed view, so a transaction can spend the outputs of an
// unconfirmed parent. It is only used while the pool lock is held.
type poolView struct {
	pool   *Pool
	height uint64
}

// AccessCoin implements the CoinView interface.
func (pv poolView) AccessCoin(op database.OutPoint) (database.Coin, bool) {
	if e, ok := pv.pool.entries[op.TxID]; ok {
		if int(op.Index) >= len(e.tx.Outputs) {
			return database.Coin{}, false
		}
		out := e.tx.Outputs[op.Index]
		if out.IsFeeMarker() {
			return database.Coin{}, false
		}
		return database.Coin{Out: out, Height: pv.height}, true
	}

	return pv.pool.view.AccessCoin(op)
}

// HasInputs implements the CoinView interface.
func (pv poolView) HasInputs(tx database.Tx) bool {
	for _, in := range tx.Inputs {
		if _, ok := pv.AccessCoin(in.OutPoint); !ok {
			return false
		}
	}
	return true
}

// =============================================================================

func negated(a currency.Amounts) currency.Amounts {
	var out currency.Amounts
	for _, c := range currency.Types {
		out[c] = -a[c]
	}
	return out
}
