package availability

import (
	"sort"
	"time"

	"slotbook/internal/domain"
)

// Merge sorts intervals by start and unions overlapping or touching ones. Empty intervals are dropped.
func Merge(in []domain.Interval) []domain.Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]domain.Interval, 0, len(in))
	for _, iv := range in {
		iv = domain.NewInterval(iv.Start, iv.End)
		if iv.IsEmpty() {
			continue
		}
		sorted = append(sorted, iv)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := make([]domain.Interval, 0, len(sorted))
	for _, iv := range sorted {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// MergeBusy drops source tags and merges.
func MergeBusy(in []domain.BusyInterval) []domain.Interval {
	ivs := make([]domain.Interval, 0, len(in))
	for _, b := range in {
		ivs = append(ivs, b.Interval)
	}
	return Merge(ivs)
}

// Subtract returns the parts of windows not covered by busy.
func Subtract(windows, busy []domain.Interval) []domain.Interval {
	windows = Merge(windows)
	busy = Merge(busy)

	out := make([]domain.Interval, 0, len(windows)+len(busy))
	j := 0
	for _, w := range windows {
		cursor := w.Start
		for j < len(busy) && !busy[j].End.After(w.Start) {
			j++
		}
		for k := j; k < len(busy) && busy[k].Start.Before(w.End); k++ {
			if busy[k].Start.After(cursor) {
				out = append(out, domain.Interval{Start: cursor, End: busy[k].Start})
			}
			if busy[k].End.After(cursor) {
				cursor = busy[k].End
			}
		}
		if cursor.Before(w.End) {
			out = append(out, domain.Interval{Start: cursor, End: w.End})
		}
	}
	return out
}

// Intersect merge-sweeps two sets and keeps every positive-length overlap.
func Intersect(a, b []domain.Interval) []domain.Interval {
	a = Merge(a)
	b = Merge(b)

	out := make([]domain.Interval, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := latest(a[i].Start, b[j].Start)
		end := earliest(a[i].End, b[j].End)
		if start.Before(end) {
			out = append(out, domain.Interval{Start: start, End: end})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

func Union(a, b []domain.Interval) []domain.Interval {
	all := make([]domain.Interval, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Merge(all)
}

// Pad widens every interval by d on both sides and re-merges.
func Pad(in []domain.Interval, d time.Duration) []domain.Interval {
	if d <= 0 {
		return Merge(in)
	}
	out := make([]domain.Interval, 0, len(in))
	for _, iv := range in {
		out = append(out, domain.Interval{Start: iv.Start.Add(-d), End: iv.End.Add(d)})
	}
	return Merge(out)
}

// Clip keeps the parts of in that fall inside bounds.
func Clip(in []domain.Interval, bounds domain.Interval) []domain.Interval {
	return Intersect(in, []domain.Interval{bounds})
}

// Span is the smallest interval covering all of in. ok is false for an empty set.
func Span(in []domain.Interval) (domain.Interval, bool) {
	merged := Merge(in)
	if len(merged) == 0 {
		return domain.Interval{}, false
	}
	return domain.Interval{Start: merged[0].Start, End: merged[len(merged)-1].End}, true
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
