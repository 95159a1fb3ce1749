// Package retention implements the retention planner: deciding which
// snapshots are safe to delete given a count-based policy and the set of
// snapshots pinned as live incremental parents or open lock-journal entries.
package retention

import "github.com/btrbak/btrbak/internal/catalog"

// Plan is the outcome of applying a retention policy to one snapshot set:
// the basenames to delete, in the ascending order they should be removed.
type Plan struct {
	Delete []string
}

// SourcePins bundles the reasons a source snapshot survives retention
// regardless of count: it holds an open lock-journal entry, or it is the
// live incremental parent for some destination.
type SourcePins struct {
	// Locked is every basename that is a key in the lock journal.
	Locked map[string]struct{}
	// LiveParents is, per destination, the most recent basename common to
	// the source and that destination (its current incremental parent).
	LiveParents []string
}

// PlanSource computes which source snapshots may be deleted given
// retainCount (0 means keep all) and the pinning rules of spec §4.5:
// every snapshot with an open lock, and every live incremental parent for
// any destination, is pinned regardless of count.
func PlanSource(source catalog.Set, retainCount int, pins SourcePins) Plan {
	pinned := make(map[string]struct{}, len(pins.Locked)+len(pins.LiveParents))
	for b := range pins.Locked {
		pinned[b] = struct{}{}
	}
	for _, b := range pins.LiveParents {
		pinned[b] = struct{}{}
	}
	return plan(source, retainCount, pinned)
}

// PlanDestination computes which snapshots at a single destination may be
// deleted given retainCount (0 means keep all). The most recent snapshot at
// the destination is always pinned so a future incremental send still has a
// parent to reference there.
func PlanDestination(dest catalog.Set, retainCount int) Plan {
	pinned := make(map[string]struct{})
	if mostRecent, ok := catalog.MostRecent(dest); ok {
		pinned[mostRecent] = struct{}{}
	}
	return plan(dest, retainCount, pinned)
}

func plan(set catalog.Set, retainCount int, pinned map[string]struct{}) Plan {
	descending := set.SortedDescending()

	retainedByCount := make(map[string]struct{})
	if retainCount > 0 {
		for i, name := range descending {
			if i >= retainCount {
				break
			}
			retainedByCount[name] = struct{}{}
		}
	} else if retainCount == 0 {
		// 0 (or omitted) means keep all; nothing is deleted by count, but
		// pinning rules are irrelevant since there is nothing left to delete.
		for _, name := range descending {
			retainedByCount[name] = struct{}{}
		}
	}

	var toDelete []string
	for _, name := range descending {
		if _, ok := retainedByCount[name]; ok {
			continue
		}
		if _, ok := pinned[name]; ok {
			continue
		}
		toDelete = append(toDelete, name)
	}

	// Ascending deletion order, per spec §4.5.
	for i, j := 0, len(toDelete)-1; i < j; i, j = i+1, j-1 {
		toDelete[i], toDelete[j] = toDelete[j], toDelete[i]
	}
	return Plan{Delete: toDelete}
}
