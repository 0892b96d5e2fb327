// Package mining assembles block templates from a pool snapshot. The
// assembler walks packages in ancestor fee rate order, settles each
// conversion it selects against a scratch supply, and parks conversions
// the current rate cannot satisfy in deferred queues that are retried
// every time a settlement moves the rate. The finished template carries
// the coinbase, the declared supply and everything the proof of work
// needs.
package mining

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/conversion"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/genesis"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
)

// Weight reserved for the coinbase and its remainder payouts, and the
// default floor a package's fee rate must clear to be selected.
const (
	coinbaseWeightReserve int64 = 4_000
	defaultMinFeePerKB          = 1_000

	// After this many package failures in a row on a nearly full block
	// the walk gives up.
	maxConsecutiveFailures = 1_000
)

// =============================================================================

// Config represents the dependencies and policy knobs for an assembler.
type Config struct {
	Genesis       genesis.Genesis
	BeneficiaryID database.AccountID
	MaxWeight     int64
	MaxSigOpCost  int64
	MinFeeRate    currency.FeeRate
	EvHandler     func(v string, args ...any)
}

// Assembler builds block templates for a beneficiary.
type Assembler struct {
	genesis       genesis.Genesis
	beneficiaryID database.AccountID
	maxWeight     int64
	maxSigOps     int64
	minFeeRate    currency.FeeRate
	evHandler     func(v string, args ...any)
}

// New constructs an assembler for the specified chain and beneficiary.
func New(cfg Config) (*Assembler, error) {
	if cfg.BeneficiaryID == "" {
		return nil, errors.New("mining: a beneficiary account is required")
	}

	if cfg.MaxWeight == 0 {
		cfg.MaxWeight = database.MaxBlockWeight
	}
	if cfg.MaxSigOpCost == 0 {
		cfg.MaxSigOpCost = database.MaxBlockSigOpsCost
	}
	if cfg.MinFeeRate.PerKB() == 0 {
		cfg.MinFeeRate = currency.NewFeeRate(defaultMinFeePerKB)
	}
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	a := Assembler{
		genesis:       cfg.Genesis,
		beneficiaryID: cfg.BeneficiaryID,
		maxWeight:     cfg.MaxWeight,
		maxSigOps:     cfg.MaxSigOpCost,
		minFeeRate:    cfg.MinFeeRate,
		evHandler:     ev,
	}

	return &a, nil
}

// =============================================================================

// BlockTemplate is the assembler's product: the ordered transactions
// with the coinbase first, the fee and signature cost each transaction
// contributes, and the supply the block settles into. The first fee
// slot carries the negated total so the coinbase's own claim can be
// reconstructed from the template alone.
type BlockTemplate struct {
	Transactions []database.BlockTx
	TxFees       []currency.Amounts
	TxSigOpCosts []int64
	Fees         currency.Amounts
	Subsidy      currency.Amounts
	Supply       currency.Amounts
	Height       uint64
	Weight       int64
	SigOpCost    int64
}

// Assemble selects transactions from the snapshot for a block at the
// specified height. The medianTimePast of the current tip is the
// finality cutoff for time locked transactions.
func (a *Assembler) Assemble(snap mempool.Snapshot, height uint64, medianTimePast uint64) *BlockTemplate {
	as := assembly{
		Assembler:      a,
		entries:        snap.Entries,
		supply:         snap.Supply,
		baseSupply:     snap.Supply,
		height:         height,
		lockTimeCutoff: medianTimePast,
		inBlock:        make(map[string]struct{}),
		failedTx:       make(map[string]struct{}),
		overlay:        make(map[string]*overlayEntry),
		deferred:       make(map[string]struct{}),
		weight:         coinbaseWeightReserve,
	}
	as.queues[currency.Cash] = &conversionQueue{}
	as.queues[currency.Bond] = &conversionQueue{}

	as.addPackageTxs()

	template := as.finalize()

	a.evHandler("mining: assemble: height[%d] txs[%d] packages[%d] updated[%d] weight[%d] fees[%s] supply[%s]",
		height, len(template.Transactions), as.packagesSelected, as.descendantsUpdated, template.Weight, template.Fees, template.Supply)

	return template
}

// =============================================================================

// assembly is the working state of one template build.
type assembly struct {
	*Assembler

	entries        map[string]*mempool.Entry
	supply         currency.Amounts
	baseSupply     currency.Amounts
	height         uint64
	lockTimeCutoff uint64

	inBlock  map[string]struct{}
	failedTx map[string]struct{}
	overlay  map[string]*overlayEntry
	deferred map[string]struct{}
	queues   [2]*conversionQueue

	txs        []database.BlockTx
	txFees     []currency.Amounts
	txSigOps   []int64
	fees       currency.Amounts
	remainders []database.TxOut
	weight     int64
	sigOpCost  int64

	consecutiveFailures int
	packagesSelected    int
	descendantsUpdated  int
}

// overlayEntry shadows a pool entry whose ancestors have partially made
// it into the block, with the aggregates reduced to what is still
// outstanding.
type overlayEntry struct {
	entry                  *mempool.Entry
	sizeWithAncestors      int64
	feesWithAncestors      currency.Amounts
	normFeesWithAncestors  currency.Amount
	sigOpCostWithAncestors int64
}

func (o *overlayEntry) view() pkgView {
	return pkgView{
		entry:    o.entry,
		size:     o.sizeWithAncestors,
		fees:     o.feesWithAncestors,
		normFees: o.normFeesWithAncestors,
		sigOps:   o.sigOpCostWithAncestors,
	}
}

// pkgView is the package a candidate would pull into the block: the
// entry itself plus whatever share of its ancestors is not in yet.
type pkgView struct {
	entry    *mempool.Entry
	size     int64
	fees     currency.Amounts
	normFees currency.Amount
	sigOps   int64
}

func rawView(e *mempool.Entry) pkgView {
	return pkgView{
		entry:    e,
		size:     e.SizeWithAncestors(),
		fees:     e.FeesWithAncestors(),
		normFees: e.NormFeesWithAncestors(),
		sigOps:   e.SigOpCostWithAncestors(),
	}
}

// scoreFeeSize returns the fee and size pair scoring this package: the
// minimum of the entry's own rate and the package rate, so a candidate
// never looks better than what confirming it costs.
func (p pkgView) scoreFeeSize() (fee float64, size float64) {
	own := float64(p.entry.NormalizedModFee()) * float64(p.size)
	agg := float64(p.normFees) * float64(p.entry.Size())

	if own > agg {
		return float64(p.normFees), float64(p.size)
	}
	return float64(p.entry.NormalizedModFee()), float64(p.entry.Size())
}

// betterThan reports whether this package outranks the other for block
// inclusion, with the lower transaction id breaking ties.
func (p pkgView) betterThan(q pkgView) bool {
	pFee, pSize := p.scoreFeeSize()
	qFee, qSize := q.scoreFeeSize()

	f1 := pFee * qSize
	f2 := pSize * qFee
	if f1 == f2 {
		return p.entry.TxID() < q.entry.TxID()
	}
	return f1 > f2
}

// =============================================================================

// addPackageTxs walks the snapshot in ancestor fee rate order, merging
// in the overlay of packages whose aggregates shrank as their ancestors
// were included, and fills the block until the weight, signature cost
// or fee floor stops it.
func (as *assembly) addPackageTxs() {
	order := make([]*mempool.Entry, 0, len(as.entries))
	for _, e := range as.entries {
		order = append(order, e)
	}
	sort.Slice(order, func(i, j int) bool {
		return mempool.CompareByAncestorScore(order[i], order[j])
	})

	mi := 0
	for mi < len(order) || len(as.overlay) > 0 {
		if mi < len(order) {
			txid := order[mi].TxID()
			_, included := as.inBlock[txid]
			_, failed := as.failedTx[txid]
			if included || failed || as.overlay[txid] != nil {
				mi++
				continue
			}
		}

		// Evaluate the better of the next raw entry and the best
		// shadowed package.
		var cand pkgView
		usingOverlay := false

		best := as.bestOverlay()
		switch {
		case mi == len(order):
			cand = best.view()
			usingOverlay = true
		default:
			cand = rawView(order[mi])
			if best != nil && best.view().betterThan(cand) {
				cand = best.view()
				usingOverlay = true
			} else {
				mi++
			}
		}

		// Everything left scores at or below this candidate, so one
		// package under the floor ends the walk.
		if cand.normFees < as.minFeeRate.Fee(cand.size) {
			return
		}

		txid := cand.entry.TxID()

		if !as.testPackage(cand.size, cand.sigOps) {
			if usingOverlay {
				delete(as.overlay, txid)
				as.failedTx[txid] = struct{}{}
			}
			as.consecutiveFailures++
			if as.consecutiveFailures > maxConsecutiveFailures && as.weight > as.maxWeight-coinbaseWeightReserve {
				break
			}
			continue
		}

		pkg := as.packageFor(cand.entry)
		sortForBlock(pkg)

		convInfo, convCount, failure := as.testPackageTransactions(pkg)
		switch failure {
		case packageNotFinal:
			if usingOverlay {
				delete(as.overlay, txid)
				as.failedTx[txid] = struct{}{}
			}
			continue

		case packageInvalidConversion:
			if usingOverlay {
				delete(as.overlay, txid)
			}
			if convCount > 1 {
				as.failedTx[txid] = struct{}{}
				continue
			}
			as.deferPackage(cand, convInfo)
			continue
		}

		as.consecutiveFailures = 0

		for _, e := range pkg {
			as.addToBlock(e)
			delete(as.overlay, e.TxID())
		}
		as.packagesSelected++

		as.updatePackagesForAdded(pkg)

		// A settled conversion moved the rate, so parked packages get
		// another look.
		if convInfo != nil {
			as.drainDeferred()
		}
	}
}

// bestOverlay returns the highest scoring shadowed package, or nil.
func (as *assembly) bestOverlay() *overlayEntry {
	var best *overlayEntry
	for _, o := range as.overlay {
		if best == nil || o.view().betterThan(best.view()) {
			best = o
		}
	}
	return best
}

// testPackage reports whether the package fits the remaining weight and
// signature cost budgets.
func (as *assembly) testPackage(size int64, sigOps int64) bool {
	if as.weight+size*database.WeightFactor >= as.maxWeight {
		return false
	}
	if as.sigOpCost+sigOps >= as.maxSigOps {
		return false
	}
	return true
}

// packageFor returns the entry plus every ancestor not yet in the
// block.
func (as *assembly) packageFor(e *mempool.Entry) []*mempool.Entry {
	pkg := []*mempool.Entry{e}
	seen := map[string]struct{}{e.TxID(): {}}

	stack := e.ParentIDs()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, ok := as.entries[id]
		if !ok {
			continue
		}
		if _, included := as.inBlock[id]; included {
			continue
		}

		pkg = append(pkg, p)
		stack = append(stack, p.ParentIDs()...)
	}

	return pkg
}

// sortForBlock orders a package so every parent precedes its children.
func sortForBlock(pkg []*mempool.Entry) {
	sort.Slice(pkg, func(i, j int) bool {
		if pkg[i].CountWithAncestors() != pkg[j].CountWithAncestors() {
			return pkg[i].CountWithAncestors() < pkg[j].CountWithAncestors()
		}
		return pkg[i].TxID() < pkg[j].TxID()
	})
}

// =============================================================================

type packageFailure int

const (
	packageOK packageFailure = iota
	packageNotFinal
	packageInvalidConversion
)

// testPackageTransactions checks every member is final and inside its
// conversion deadline, and settles the package's conversions in block
// order against a copy of the scratch supply. It returns the package's
// conversion info when one will settle and how many conversions the
// package carries.
func (as *assembly) testPackageTransactions(pkg []*mempool.Entry) (*database.ConversionInfo, int, packageFailure) {
	for _, e := range pkg {
		if !e.Tx().IsFinal(as.height, as.lockTimeCutoff) {
			return nil, 0, packageNotFinal
		}
	}

	convCount := 0
	for _, e := range pkg {
		if e.Conversion() != nil {
			convCount++
		}
	}

	var last *database.ConversionInfo
	scratch := as.supply
	for _, e := range pkg {
		conv := e.Conversion()
		if conv == nil {
			continue
		}
		if conv.Expired(as.height) {
			return nil, convCount, packageNotFinal
		}
		if _, err := conversion.Apply(&scratch, conv.Inputs, conv.MinOutputs, conv.RemainderType); err != nil {
			return nil, convCount, packageInvalidConversion
		}
		last = conv
	}

	return last, convCount, packageOK
}

// addToBlock appends the entry's transaction, accounts its fees, weight
// and signature cost, and settles its conversion into the scratch
// supply. Remainders owed to an account become required coinbase
// payouts; unclaimed remainders fall to the miner as fees.
func (as *assembly) addToBlock(e *mempool.Entry) {
	as.txs = append(as.txs, e.Tx())
	as.txFees = append(as.txFees, e.Fees())
	as.txSigOps = append(as.txSigOps, e.SigOpCost())
	as.weight += e.Size() * database.WeightFactor
	as.sigOpCost += e.SigOpCost()
	for _, c := range currency.Types {
		as.fees[c] += e.Fees()[c]
	}
	as.inBlock[e.TxID()] = struct{}{}

	if conv := e.Conversion(); conv != nil {
		remainder, err := conversion.Apply(&as.supply, conv.Inputs, conv.MinOutputs, conv.RemainderType)
		if err != nil {
			panic(fmt.Sprintf("mining: conversion %s failed after passing validation: %v", e.TxID(), err))
		}

		if remainder > 0 {
			if conv.RemainderOwner != "" {
				as.remainders = append(as.remainders, database.TxOut{
					OwnerID:  conv.RemainderOwner,
					Currency: conv.RemainderType,
					Value:    remainder,
				})
			} else {
				as.fees[conv.RemainderType] += remainder
			}
		}
	}

	as.evHandler("mining: select: tx[%s] fees[%s]", e.TxID(), e.Fees())
}

// updatePackagesForAdded rebases the ancestor aggregates of everything
// depending on the newly added entries, including packages parked in
// the deferred queues.
func (as *assembly) updatePackagesForAdded(added []*mempool.Entry) {
	for _, a := range added {
		descendants := as.descendantsOf(a)

		for did := range descendants {
			if _, included := as.inBlock[did]; included {
				continue
			}

			d := as.entries[did]
			o := as.overlay[did]
			if o == nil {
				o = &overlayEntry{
					entry:                  d,
					sizeWithAncestors:      d.SizeWithAncestors(),
					feesWithAncestors:      d.FeesWithAncestors(),
					sigOpCostWithAncestors: d.SigOpCostWithAncestors(),
				}
				as.overlay[did] = o
			}

			o.sizeWithAncestors -= a.Size()
			o.sigOpCostWithAncestors -= a.SigOpCost()
			for _, c := range currency.Types {
				o.feesWithAncestors[c] -= a.ModifiedFees()[c]
			}
			o.normFeesWithAncestors = as.normalizedValue(o.feesWithAncestors)

			as.descendantsUpdated++
		}

		for _, q := range as.queues {
			for _, item := range q.items {
				if item.done {
					continue
				}
				if _, ok := descendants[item.entry.TxID()]; !ok {
					continue
				}
				item.sizeWithAncestors -= a.Size()
				item.sigOpCostWithAncestors -= a.SigOpCost()
				for _, c := range currency.Types {
					item.feesWithAncestors[c] -= a.ModifiedFees()[c]
				}
				item.normFeesWithAncestors = as.normalizedValue(item.feesWithAncestors)
			}
		}
	}
}

// descendantsOf returns the ids of every snapshot entry below the
// specified one.
func (as *assembly) descendantsOf(e *mempool.Entry) map[string]struct{} {
	seen := make(map[string]struct{})

	stack := e.ChildIDs()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, dup := seen[id]; dup {
			continue
		}

		c, ok := as.entries[id]
		if !ok {
			continue
		}
		seen[id] = struct{}{}
		stack = append(stack, c.ChildIDs()...)
	}

	return seen
}

// normalizedValue prices a fee pair in cash at the supply the snapshot
// was taken against, matching how the pool normalizes fees.
func (as *assembly) normalizedValue(fees currency.Amounts) currency.Amount {
	if fees[currency.Bond] <= 0 || (as.baseSupply[currency.Cash] == 0 && as.baseSupply[currency.Bond] == 0) {
		return fees[currency.Cash]
	}

	bondValue := conversion.ConvertedAmount(as.baseSupply, fees[currency.Bond], currency.Bond, false)
	return currency.SaturatingAdd(fees[currency.Cash], bondValue)
}

// =============================================================================

// deferPackage parks a package whose conversion the current supply
// cannot satisfy on the queue for the currency it consumes.
func (as *assembly) deferPackage(cand pkgView, convInfo *database.ConversionInfo) {
	txid := cand.entry.TxID()
	if _, exists := as.deferred[txid]; exists {
		return
	}
	as.deferred[txid] = struct{}{}

	dir, rate := demandedRate(as.supply, convInfo)
	as.queues[dir].push(&deferredPackage{
		entry:                  cand.entry,
		rate:                   rate,
		sizeWithAncestors:      cand.size,
		feesWithAncestors:      cand.fees,
		normFeesWithAncestors:  cand.normFees,
		sigOpCostWithAncestors: cand.sigOps,
	})

	as.evHandler("mining: defer: tx[%s] consumes[%s] rate[%g]", txid, dir, rate)
}

// drainDeferred retries parked packages after a settlement moved the
// supply. The two queue heads compete on ancestor fee rate; a head
// whose conversion still cannot settle parks its whole queue for the
// round, since everything behind it demands an even better rate. Each
// settlement inside the drain reopens both queues.
func (as *assembly) drainDeferred() {
	cashQ, bondQ := as.queues[currency.Cash], as.queues[currency.Bond]
	cashQ.prepare()
	bondQ.prepare()

	for {
		item, q := as.nextDeferred(cashQ, bondQ)
		if item == nil {
			break
		}

		pkg := as.packageFor(item.entry)
		sortForBlock(pkg)

		convInfo, _, failure := as.testPackageTransactions(pkg)
		if failure == packageInvalidConversion {
			q.park()
			continue
		}
		if failure == packageNotFinal {
			item.done = true
			continue
		}

		if item.normFeesWithAncestors < as.minFeeRate.Fee(item.sizeWithAncestors) {
			item.done = true
			continue
		}

		if !as.testPackage(item.sizeWithAncestors, item.sigOpCostWithAncestors) {
			item.done = true
			as.consecutiveFailures++
			continue
		}

		as.consecutiveFailures = 0

		for _, e := range pkg {
			as.addToBlock(e)
			delete(as.overlay, e.TxID())
		}
		item.done = true
		as.packagesSelected++

		as.updatePackagesForAdded(pkg)

		if convInfo != nil {
			cashQ.reopen()
			bondQ.reopen()
		}
	}

	cashQ.sweep()
	bondQ.sweep()
}

// nextDeferred returns the better of the two queue heads by ancestor
// fee rate.
func (as *assembly) nextDeferred(cashQ, bondQ *conversionQueue) (*deferredPackage, *conversionQueue) {
	cashItem := as.queueHead(cashQ)
	bondItem := as.queueHead(bondQ)

	switch {
	case cashItem == nil && bondItem == nil:
		return nil, nil
	case bondItem == nil:
		return cashItem, cashQ
	case cashItem == nil:
		return bondItem, bondQ
	case cashItem.view().betterThan(bondItem.view()):
		return cashItem, cashQ
	default:
		return bondItem, bondQ
	}
}

// queueHead returns the cheapest live item, consuming entries the block
// already absorbed along the way.
func (as *assembly) queueHead(q *conversionQueue) *deferredPackage {
	if q.parked {
		return nil
	}

	for _, item := range q.items {
		if item.done {
			continue
		}
		if _, included := as.inBlock[item.entry.TxID()]; included {
			item.done = true
			continue
		}
		return item
	}

	return nil
}

// =============================================================================

// finalize issues the reward against the settled supply, builds the
// coinbase and packages the template.
func (as *assembly) finalize() *BlockTemplate {
	subsidy := as.genesis.Subsidy(as.height, as.supply)

	headerSupply := as.supply
	for _, c := range currency.Types {
		headerSupply[c] += subsidy[c]
	}

	outs := make([]database.TxOut, 0, 2+len(as.remainders))
	outs = append(outs,
		database.TxOut{OwnerID: as.beneficiaryID, Currency: currency.Cash, Value: as.fees[currency.Cash] + subsidy[currency.Cash]},
		database.TxOut{OwnerID: as.beneficiaryID, Currency: currency.Bond, Value: as.fees[currency.Bond] + subsidy[currency.Bond]},
	)
	outs = append(outs, as.remainders...)

	coinbase := database.BlockTx{
		SignedTx: database.SignedTx{
			Tx: database.Tx{
				ChainID: as.genesis.ChainID,
				Nonce:   as.height,
				Inputs: []database.TxIn{
					{OutPoint: database.OutPoint{TxID: signature.ZeroHash, Index: database.CoinbaseOutPointIndex}},
				},
				Outputs: outs,
			},
		},
		TimeStamp: uint64(time.Now().UTC().Unix()),
	}

	var negated currency.Amounts
	for _, c := range currency.Types {
		negated[c] = -as.fees[c]
	}

	template := BlockTemplate{
		Transactions: append([]database.BlockTx{coinbase}, as.txs...),
		TxFees:       append([]currency.Amounts{negated}, as.txFees...),
		TxSigOpCosts: append([]int64{coinbase.SigOpCost()}, as.txSigOps...),
		Fees:         as.fees,
		Subsidy:      subsidy,
		Supply:       headerSupply,
		Height:       as.height,
		Weight:       as.weight,
		SigOpCost:    as.sigOpCost,
	}

	return &template
}
