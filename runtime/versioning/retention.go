package versioning

import (
	"sort"
	"time"

	"github.com/siteforge-ai/core/runtime/apperr"
)

// maxPinned and maxAuto are the retention limits shared by ProductDocHistory,
// PageVersion, and ProjectSnapshot (spec §3 retention invariants).
const (
	maxPinned = 2
	maxAuto   = 5
)

// Item is the minimal shape the retention algorithm needs from a history
// row; ProductDocHistory, PageVersion, and ProjectSnapshot are each reduced
// to this before calling Retention.
type Item struct {
	ID         string
	Source     Source
	IsPinned   bool
	IsReleased bool
	CreatedAt  time.Time
}

// RetentionPlan is the outcome of applying the algorithm to one parent's
// children: which ids to release and which currently-released ids must be
// restored (bookkeeping only; their payload was already nulled and is not
// recoverable).
type RetentionPlan struct {
	Release []string
	Restore []string
}

// ErrPinnedLimitExceeded is returned by Pin when a parent already holds
// maxPinned pinned children; callers attach the current pinned ids via
// apperr.Error.WithDetails.
var ErrPinnedLimitExceeded = apperr.New(apperr.CategoryStateConflict, "pinned limit exceeded")

// CheckPinLimit returns ErrPinnedLimitExceeded (with current pinned ids
// attached) if pinning one more child would exceed maxPinned.
func CheckPinLimit(items []Item) error {
	var pinned []string
	for _, it := range items {
		if it.IsPinned {
			pinned = append(pinned, it.ID)
		}
	}
	if len(pinned) >= maxPinned {
		err := *ErrPinnedLimitExceeded
		return err.WithDetails(map[string]any{"pinned_ids": pinned})
	}
	return nil
}

// Retention applies the algorithm from spec §4.4:
//  1. order children by descending creation time
//  2. keep up to maxPinned pinned
//  3. keep up to maxAuto with source=auto
//  4. union as keep_ids
//  5. release everything else not already released
//  6. restore bookkeeping for anything in keep_ids that is currently released
func Retention(items []Item) RetentionPlan {
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.After(ordered[j].CreatedAt) })

	keep := make(map[string]bool)
	pinnedKept := 0
	for _, it := range ordered {
		if it.IsPinned && pinnedKept < maxPinned {
			keep[it.ID] = true
			pinnedKept++
		}
	}
	autoKept := 0
	for _, it := range ordered {
		if keep[it.ID] {
			continue
		}
		if it.Source == SourceAuto && autoKept < maxAuto {
			keep[it.ID] = true
			autoKept++
		}
	}

	var plan RetentionPlan
	for _, it := range ordered {
		switch {
		case keep[it.ID] && it.IsReleased:
			plan.Restore = append(plan.Restore, it.ID)
		case !keep[it.ID] && !it.IsReleased:
			plan.Release = append(plan.Release, it.ID)
		}
	}
	return plan
}
