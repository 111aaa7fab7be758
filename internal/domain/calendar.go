package domain

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// DateSpan is an inclusive range of occupied days.
type DateSpan struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

type ManualBlock struct {
	ID     int64      `json:"id"`
	Date   civil.Date `json:"date"`
	Reason string     `json:"reason,omitempty"`
}

// Availability is what an AvailabilityProvider hands to the engine.
type Availability struct {
	Today        civil.Date    `json:"today"`
	LeadTimeDays int           `json:"leadTimeDays"`
	Spans        []DateSpan    `json:"spans"`
	Blocks       []ManualBlock `json:"blocks"`
}

// spans longer than this are treated as corrupt and only their first day is blocked
const maxSpanDays = 366

type CalendarPolicy struct {
	Today        civil.Date
	LeadTimeDays int
	blocked      map[civil.Date]struct{}
}

// NewCalendarPolicy flattens reservation spans and manual blocks into one blocked-date set.
func NewCalendarPolicy(today civil.Date, leadTimeDays int, spans []DateSpan, blocks []ManualBlock) CalendarPolicy {
	p := CalendarPolicy{
		Today:        today,
		LeadTimeDays: max(leadTimeDays, 0),
		blocked:      make(map[civil.Date]struct{}),
	}
	for _, s := range spans {
		if !s.Start.IsValid() {
			continue
		}
		end := s.End
		if !end.IsValid() || end.Before(s.Start) || end.DaysSince(s.Start) > maxSpanDays {
			end = s.Start
		}
		for d := s.Start; !d.After(end); d = d.AddDays(1) {
			p.blocked[d] = struct{}{}
		}
	}
	for _, b := range blocks {
		if b.Date.IsValid() {
			p.blocked[b.Date] = struct{}{}
		}
	}
	return p
}

// PolicyFromAvailability uses the provider's own notion of today when present.
func PolicyFromAvailability(av Availability, fallbackToday civil.Date) CalendarPolicy {
	today := av.Today
	if !today.IsValid() {
		today = fallbackToday
	}
	return NewCalendarPolicy(today, av.LeadTimeDays, av.Spans, av.Blocks)
}

// EarliestBookable is the first day satisfying the lead time.
func (p CalendarPolicy) EarliestBookable() civil.Date {
	return p.Today.AddDays(p.LeadTimeDays)
}

func (p CalendarPolicy) IsBlocked(d civil.Date) bool {
	_, ok := p.blocked[d]
	return ok
}

// BlockedDates returns the set in ascending order.
func (p CalendarPolicy) BlockedDates() []civil.Date {
	out := make([]civil.Date, 0, len(p.blocked))
	for d := range p.blocked {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now.In(loc))
}
