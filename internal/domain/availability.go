package domain

import "cloud.google.com/go/civil"

// Reason codes are mapped to messages by whoever renders them.
type Reason string

const (
	MissingSelection    Reason = "missing_selection"
	WrongShape          Reason = "wrong_shape"
	ContainsBlockedDate Reason = "contains_blocked_date"
	BeforeLeadTime      Reason = "before_lead_time"
)

type ValidationResult struct {
	Valid  bool        `json:"valid"`
	Reason Reason      `json:"reason,omitempty"`
	Date   *civil.Date `json:"date,omitempty"`
}

func Valid() ValidationResult { return ValidationResult{Valid: true} }

func Invalid(r Reason) ValidationResult { return ValidationResult{Reason: r} }

func invalidOn(r Reason, d civil.Date) ValidationResult {
	return ValidationResult{Reason: r, Date: &d}
}

// Err converts an invalid result into an *AvailabilityError.
func (v ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	return &AvailabilityError{Result: v}
}

func IsSelectable(d civil.Date, p CalendarPolicy) bool {
	return rejectDay(d, p) == ""
}

func rejectDay(d civil.Date, p CalendarPolicy) Reason {
	if d.Before(p.Today) || d.Before(p.EarliestBookable()) {
		return BeforeLeadTime
	}
	if p.IsBlocked(d) {
		return ContainsBlockedDate
	}
	return ""
}

// ValidateSelection checks shape first, then every day of the selection.
func ValidateSelection(t ReservationType, sel DateSelection, p CalendarPolicy) ValidationResult {
	if !t.Valid() || !sel.complete() {
		return Invalid(MissingSelection)
	}

	switch t {
	case Ceremony:
		if len(sel) != 1 {
			return Invalid(WrongShape)
		}
	case DayUse:
		if len(sel) != 2 || sel.End().Before(sel.Start()) {
			return Invalid(WrongShape)
		}
		if sel.End().DaysSince(sel.Start())+1 > MaxQuoteDays {
			return Invalid(WrongShape)
		}
	}

	for d := sel.Start(); !d.After(sel.End()); d = d.AddDays(1) {
		if r := rejectDay(d, p); r != "" {
			return invalidOn(r, d)
		}
	}
	return Valid()
}
