package availability

import (
	"slices"
	"time"

	"slotbook/internal/domain"
)

// CombineFree folds per-member free sets: intersection for all_required, union for any_one.
func CombineFree(policy domain.MembershipPolicy, free [][]domain.Interval) []domain.Interval {
	if len(free) == 0 {
		return nil
	}
	out := Merge(free[0])
	for _, f := range free[1:] {
		if policy == domain.PolicyAnyOne {
			out = Union(out, f)
		} else {
			out = Intersect(out, f)
		}
		if len(out) == 0 && policy != domain.PolicyAnyOne {
			return nil
		}
	}
	return out
}

// SlotsForPolicy slices per-member free sets into the subject's slots. Under all_required the
// intersection is sliced. Under any_one each member is sliced alone, so every slot fits inside a
// single member's free time even where member free sets touch or overlap.
func SlotsForPolicy(policy domain.MembershipPolicy, free [][]domain.Interval, opt domain.DurationOption, now time.Time) []domain.Slot {
	if policy != domain.PolicyAnyOne {
		return SlotsFromFree(CombineFree(policy, free), opt, now)
	}
	out := make([]domain.Slot, 0)
	for _, f := range free {
		out = append(out, SlotsFromFree(f, opt, now)...)
	}
	slices.SortFunc(out, func(a, b domain.Slot) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
	return slices.CompactFunc(out, func(a, b domain.Slot) bool { return a.Equal(b) })
}

// AssignHost picks the first member, in membership order, whose free time holds slot.
func AssignHost(memberIDs []string, free map[string][]domain.Interval, slot domain.Slot) (string, bool) {
	for _, id := range memberIDs {
		for _, iv := range free[id] {
			if iv.Contains(slot) {
				return id, true
			}
		}
	}
	return "", false
}
