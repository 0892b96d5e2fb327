package mempool

import "sort"

// descendantScore returns the fee and size pair scoring this entry for
// eviction: the maximum of its own fee rate and its descendant set fee
// rate, selected by cross multiplication to avoid division.
func (e *Entry) descendantScore() (fee float64, size float64) {
	own := float64(e.normalizedModFee) * float64(e.sizeWithDescendants)
	agg := float64(e.normFeesWithDescendants) * float64(e.size)

	if agg > own {
		return float64(e.normFeesWithDescendants), float64(e.sizeWithDescendants)
	}
	return float64(e.normalizedModFee), float64(e.size)
}

// ancestorScore returns the fee and size pair scoring this entry for
// block inclusion: the minimum of its own fee rate and its ancestor set
// fee rate, so a transaction never looks better than the package needed
// to confirm it.
func (e *Entry) ancestorScore() (fee float64, size float64) {
	own := float64(e.normalizedModFee) * float64(e.sizeWithAncestors)
	agg := float64(e.normFeesWithAncestors) * float64(e.size)

	if own > agg {
		return float64(e.normFeesWithAncestors), float64(e.sizeWithAncestors)
	}
	return float64(e.normalizedModFee), float64(e.size)
}

// CompareByDescendantScore reports whether a sorts before b in eviction
// order: lower descendant score first, with later entry time breaking
// ties.
func CompareByDescendantScore(a, b *Entry) bool {
	aFee, aSize := a.descendantScore()
	bFee, bSize := b.descendantScore()

	f1 := aFee * bSize
	f2 := aSize * bFee
	if f1 == f2 {
		return a.time >= b.time
	}
	return f1 < f2
}

// CompareByAncestorScore reports whether a sorts before b in block
// inclusion order: higher ancestor score first, with the lower
// transaction id breaking ties.
func CompareByAncestorScore(a, b *Entry) bool {
	aFee, aSize := a.ancestorScore()
	bFee, bSize := b.ancestorScore()

	f1 := aFee * bSize
	f2 := aSize * bFee
	if f1 == f2 {
		return a.txid < b.txid
	}
	return f1 > f2
}

// sortedByDescendantScoreLocked returns the entries in eviction order.
// The pool lock must be held.
func (mp *Pool) sortedByDescendantScoreLocked() []*Entry {
	entries := make([]*Entry, 0, len(mp.entries))
	for _, e := range mp.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return CompareByDescendantScore(entries[i], entries[j])
	})
	return entries
}

// sortedByAncestorScoreLocked returns the entries in block inclusion
// order. The pool lock must be held.
func (mp *Pool) sortedByAncestorScoreLocked() []*Entry {
	entries := make([]*Entry, 0, len(mp.entries))
	for _, e := range mp.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return CompareByAncestorScore(entries[i], entries[j])
	})
	return entries
}
