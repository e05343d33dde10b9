package availability

import (
	"time"

	"slotbook/internal/domain"
)

// ScanLimitDays bounds the search for the nearest valid date in each direction.
const ScanLimitDays = 365

// Member is one participant whose template contributes to a subject's availability.
type Member struct {
	ID       string
	Template domain.AvailabilityTemplate
	Location *time.Location
}

// Plan is everything needed to resolve and slice one subject's availability.
type Plan struct {
	Subject  domain.Subject
	Members  []Member
	Policy   domain.MembershipPolicy
	Duration domain.DurationOption
	Group    *domain.AppointmentGroup
}

func (p Plan) MemberIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

type Resolution struct {
	Date          time.Time
	ValidStart    time.Time
	ValidEnd      *time.Time
	AvailableDays []domain.Weekday
	IsInvalidDate bool
	NextValidDate *time.Time
	PrevValidDate *time.Time

	// Windows holds the UTC working windows of every member open on Date.
	Windows map[string][]domain.Interval
}

type dateRange struct {
	start time.Time
	end   *time.Time
}

func (r dateRange) contains(d time.Time) bool {
	if d.Before(r.start) {
		return false
	}
	return r.end == nil || !d.After(*r.end)
}

// Resolve decides whether date is bookable for the plan and, when it is not, finds the nearest
// valid dates within ScanLimitDays. It fails with ErrNoAvailabilityInRange when neither exists.
func Resolve(plan Plan, date, now time.Time) (Resolution, error) {
	if len(plan.Members) == 0 {
		return Resolution{}, domain.ErrEmptyGroupMembership
	}
	date = domain.DateOf(date)

	ranges := make([]dateRange, len(plan.Members))
	weekdays := make([]map[domain.Weekday]bool, len(plan.Members))
	for i, m := range plan.Members {
		ranges[i] = memberRange(m, plan.Duration, now)
		weekdays[i] = m.Template.Weekdays()
	}

	memberOpen := func(i int, d time.Time) bool {
		return ranges[i].contains(d) && weekdays[i][domain.ISOWeekday(d)]
	}
	open := func(d time.Time) bool {
		if plan.Policy == domain.PolicyAnyOne {
			for i := range plan.Members {
				if memberOpen(i, d) {
					return true
				}
			}
			return false
		}
		for i := range plan.Members {
			if !memberOpen(i, d) {
				return false
			}
		}
		return true
	}

	combined := combineRanges(plan.Policy, ranges)
	res := Resolution{
		Date:          date,
		ValidStart:    combined.start,
		ValidEnd:      combined.end,
		AvailableDays: combineWeekdays(plan.Policy, weekdays),
		Windows:       make(map[string][]domain.Interval, len(plan.Members)),
	}

	if open(date) {
		d := date
		res.NextValidDate = &d
		res.PrevValidDate = &d
		for i, m := range plan.Members {
			if !memberOpen(i, date) {
				continue
			}
			if w := m.Template.UTCWindows(date, m.Location); len(w) > 0 {
				res.Windows[m.ID] = w
			}
		}
		return res, nil
	}

	res.IsInvalidDate = true
	for i := 1; i <= ScanLimitDays; i++ {
		d := date.AddDate(0, 0, i)
		if combined.end != nil && d.After(*combined.end) {
			break
		}
		if open(d) {
			res.NextValidDate = &d
			break
		}
	}
	for i := 1; i <= ScanLimitDays; i++ {
		d := date.AddDate(0, 0, -i)
		if d.Before(combined.start) {
			break
		}
		if open(d) {
			res.PrevValidDate = &d
			break
		}
	}
	if res.NextValidDate == nil && res.PrevValidDate == nil {
		return res, domain.ErrNoAvailabilityInRange
	}
	return res, nil
}

// memberRange narrows the template range by the duration's notice and horizon settings,
// both counted from the member's local today.
func memberRange(m Member, opt domain.DurationOption, now time.Time) dateRange {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	today := domain.DateOf(now.In(loc))

	start := domain.DateOf(m.Template.ValidStartDate)
	if notice := today.AddDate(0, 0, opt.MinimumNoticeDays); opt.MinimumNoticeDays > 0 && notice.After(start) {
		start = notice
	}

	var end *time.Time
	if m.Template.ValidEndDate != nil {
		e := domain.DateOf(*m.Template.ValidEndDate)
		end = &e
	}
	if opt.AvailabilityWindowDays > 0 {
		horizonStart := today.AddDate(0, 0, opt.MinimumNoticeDays)
		horizon := horizonStart.AddDate(0, 0, opt.AvailabilityWindowDays-1)
		if end == nil || horizon.Before(*end) {
			end = &horizon
		}
	}
	return dateRange{start: start, end: end}
}

func combineRanges(policy domain.MembershipPolicy, ranges []dateRange) dateRange {
	out := ranges[0]
	for _, r := range ranges[1:] {
		if policy == domain.PolicyAnyOne {
			if r.start.Before(out.start) {
				out.start = r.start
			}
			if out.end != nil && (r.end == nil || r.end.After(*out.end)) {
				out.end = r.end
			}
			continue
		}
		if r.start.After(out.start) {
			out.start = r.start
		}
		if r.end != nil && (out.end == nil || r.end.Before(*out.end)) {
			out.end = r.end
		}
	}
	return out
}

func combineWeekdays(policy domain.MembershipPolicy, sets []map[domain.Weekday]bool) []domain.Weekday {
	out := make([]domain.Weekday, 0, 7)
	for wd := domain.Weekday(1); wd <= 7; wd++ {
		count := 0
		for _, s := range sets {
			if s[wd] {
				count++
			}
		}
		if (policy == domain.PolicyAnyOne && count > 0) || count == len(sets) {
			out = append(out, wd)
		}
	}
	return out
}
