package core

import (
	"sort"

	"mellon/pkg/domain"
)

// DefaultMemberCap bounds how many current members one reconciliation pass
// reads and updates. It keeps the transaction read and write sets below the
// operation limits of transactional document stores.
const DefaultMemberCap = 100

// MembershipDiff is the pure output of comparing two membership maps.
type MembershipDiff struct {
	// Current is a working copy of the current membership map. The
	// reconciler mutates it (pruning, email repair) before the aggregate
	// rewrite.
	Current map[string]domain.MemberEntry
	// FetchIDs holds the member IDs whose user documents are read this
	// pass, in lexicographic order, at most the cap.
	FetchIDs []string
	// Removed holds the IDs present previously but absent now, in
	// lexicographic order.
	Removed []string
	// Deferred holds the member IDs beyond the cap, skipped this pass.
	Deferred []string
	// Modified reports whether the aggregate must be rewritten.
	Modified bool
}

// DiffMembership computes which member documents a reconciliation pass must
// read and update. Iteration is by sorted key so the cap cuts off the same
// members on every run. Members beyond the cap are deferred, not rejected,
// and mark the aggregate modified.
func DiffMembership(previous, current map[string]domain.MemberEntry, limit int) MembershipDiff {
	if limit <= 0 {
		limit = DefaultMemberCap
	}

	diff := MembershipDiff{Current: make(map[string]domain.MemberEntry, len(current))}

	currentIDs := make([]string, 0, len(current))
	for id, entry := range current {
		diff.Current[id] = entry
		currentIDs = append(currentIDs, id)
	}
	sort.Strings(currentIDs)

	if len(currentIDs) > limit {
		diff.FetchIDs = currentIDs[:limit]
		diff.Deferred = currentIDs[limit:]
		diff.Modified = true
	} else {
		diff.FetchIDs = currentIDs
	}

	for id := range previous {
		if _, ok := current[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Removed)

	return diff
}
