package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

type ReservationType string

const (
	DayUse   ReservationType = "day_use"
	Ceremony ReservationType = "ceremony"
)

func (t ReservationType) Valid() bool { return t == DayUse || t == Ceremony }

func ParseReservationType(s string) (ReservationType, error) {
	t := ReservationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown reservation type %q", s)
	}
	return t, nil
}

// DateSelection holds the picked dates: one for a ceremony, start and end for day use.
type DateSelection []civil.Date

func SingleDate(d civil.Date) DateSelection { return DateSelection{d} }

func DateRange(start, end civil.Date) DateSelection { return DateSelection{start, end} }

func (s DateSelection) Start() civil.Date {
	if len(s) == 0 {
		return civil.Date{}
	}
	return s[0]
}

func (s DateSelection) End() civil.Date {
	if len(s) == 0 {
		return civil.Date{}
	}
	return s[len(s)-1]
}

func (s DateSelection) complete() bool {
	for _, d := range s {
		if !d.IsValid() {
			return false
		}
	}
	return len(s) > 0
}

// MaxQuoteDays bounds a day-use stay; longer spans are priced as incomplete.
const MaxQuoteDays = 365

type PricingBreakdown struct {
	DayRate         decimal.Decimal `json:"dayRate"`
	ChaletsSubtotal decimal.Decimal `json:"chaletsSubtotal"`
	Days            int             `json:"days"`
	Total           decimal.Decimal `json:"total"`
}

func (b PricingBreakdown) IsZero() bool {
	return b.Days == 0 && b.Total.IsZero()
}

// Equal compares amounts numerically so JSON round-trips still match.
func (b PricingBreakdown) Equal(o PricingBreakdown) bool {
	return b.Days == o.Days &&
		b.DayRate.Equal(o.DayRate) &&
		b.ChaletsSubtotal.Equal(o.ChaletsSubtotal) &&
		b.Total.Equal(o.Total)
}

func zeroBreakdown() PricingBreakdown {
	return PricingBreakdown{DayRate: decimal.Zero, ChaletsSubtotal: decimal.Zero, Total: decimal.Zero}
}

// BillableDays is 1 for a ceremony and the inclusive day count of a day-use range.
// Zero means the selection cannot be priced yet.
func BillableDays(t ReservationType, sel DateSelection) int {
	switch t {
	case Ceremony:
		return 1
	case DayUse:
		if len(sel) != 2 || !sel.complete() {
			return 0
		}
		span := sel.End().DaysSince(sel.Start())
		if span < 0 {
			return 0
		}
		days := span + 1
		if days > MaxQuoteDays {
			return 0
		}
		return days
	default:
		return 0
	}
}

// Quote prices a selection. It never fails: shape problems are caught by ValidateSelection,
// and an unpriceable selection yields an all-zero breakdown.
func Quote(table PriceTable, t ReservationType, sel DateSelection, guests, chalets int) PricingBreakdown {
	days := BillableDays(t, sel)
	if days == 0 {
		return zeroBreakdown()
	}
	d := decimal.NewFromInt(int64(days))
	chaletsSubtotal := table.ChaletUnitPrice.Mul(decimal.NewFromInt(int64(chalets))).Mul(d)

	out := PricingBreakdown{
		DayRate:         decimal.Zero,
		ChaletsSubtotal: chaletsSubtotal,
		Days:            days,
	}
	switch t {
	case DayUse:
		out.DayRate = table.PriceForGuests(guests)
		out.Total = out.DayRate.Mul(d).Add(chaletsSubtotal)
	case Ceremony:
		out.Total = table.CeremonyFlatPrice.Add(chaletsSubtotal)
	}
	return out
}
