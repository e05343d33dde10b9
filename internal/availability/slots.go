package availability

import (
	"time"

	"slotbook/internal/domain"
)

// GenerateSlots subtracts busy from window and slices what is left.
func GenerateSlots(window, busy []domain.Interval, opt domain.DurationOption, now time.Time) []domain.Slot {
	return SlotsFromFree(Subtract(window, busy), opt, now)
}

// SlotsFromFree cuts each free interval into duration-long slots every step, starting at the
// interval start. Slots starting before now plus the lead time are dropped. Output is ascending.
func SlotsFromFree(free []domain.Interval, opt domain.DurationOption, now time.Time) []domain.Slot {
	duration := opt.Duration()
	step := opt.Step()
	if duration <= 0 || step <= 0 {
		return nil
	}
	earliest := now.UTC().Add(opt.LeadTime())

	out := make([]domain.Slot, 0)
	for _, iv := range Merge(free) {
		for start := iv.Start; !start.Add(duration).After(iv.End); start = start.Add(step) {
			if start.Before(earliest) {
				continue
			}
			out = append(out, domain.Slot{Start: start, End: start.Add(duration)})
		}
	}
	return out
}

// ContainsSlot reports whether want is exactly one of slots.
func ContainsSlot(slots []domain.Slot, want domain.Slot) bool {
	for _, s := range slots {
		if s.Equal(want) {
			return true
		}
	}
	return false
}
