package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PriceTier prices a day for parties of up to MaxGuests people.
type PriceTier struct {
	MaxGuests int             `json:"maxGuests" db:"max_guests"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

type PriceTable struct {
	DayRateTiers      []PriceTier     `json:"dayRateTiers"`
	ChaletUnitPrice   decimal.Decimal `json:"chaletUnitPrice"`
	CeremonyFlatPrice decimal.Decimal `json:"ceremonyFlatPrice"`
	MaxChalets        int             `json:"maxChalets"`
	LeadTimeDays      int             `json:"leadTimeDays"`
	MaxGuests         int             `json:"maxGuests"`
}

// DefaultPriceTable is served until staff save their own configuration.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		DayRateTiers: []PriceTier{
			{MaxGuests: 30, Price: decimal.NewFromInt(1000)},
			{MaxGuests: 60, Price: decimal.NewFromInt(1500)},
			{MaxGuests: 100, Price: decimal.NewFromInt(2000)},
			{MaxGuests: 200, Price: decimal.NewFromInt(2500)},
		},
		ChaletUnitPrice:   decimal.NewFromInt(150),
		CeremonyFlatPrice: decimal.NewFromInt(300),
		MaxChalets:        4,
		LeadTimeDays:      2,
		MaxGuests:         200,
	}
}

// PriceForGuests returns the price of the first tier whose threshold holds count,
// or the last tier's price when count exceeds every threshold. count must be positive.
func (t PriceTable) PriceForGuests(count int) decimal.Decimal {
	if len(t.DayRateTiers) == 0 {
		return decimal.Zero
	}
	for _, tier := range t.DayRateTiers {
		if tier.MaxGuests >= count {
			return tier.Price
		}
	}
	return t.DayRateTiers[len(t.DayRateTiers)-1].Price
}

// Normalized returns a copy with tiers sorted ascending by threshold.
func (t PriceTable) Normalized() PriceTable {
	out := t
	out.DayRateTiers = make([]PriceTier, len(t.DayRateTiers))
	copy(out.DayRateTiers, t.DayRateTiers)
	sort.SliceStable(out.DayRateTiers, func(i, j int) bool {
		return out.DayRateTiers[i].MaxGuests < out.DayRateTiers[j].MaxGuests
	})
	return out
}

func (t PriceTable) ClampGuests(n int) int {
	return clamp(n, 1, max(t.MaxGuests, 1))
}

func (t PriceTable) ClampChalets(n int) int {
	return clamp(n, 0, max(t.MaxChalets, 0))
}

// Validate checks the table as an admin would save it. Tiers must be sorted already.
func (t PriceTable) Validate() error {
	ie := NewInputError()

	if t.MaxGuests <= 0 {
		ie.Add("maxGuests", "must be greater than 0")
	}
	if t.MaxChalets < 0 {
		ie.Add("maxChalets", "must be 0 or more")
	}
	if t.LeadTimeDays < 0 {
		ie.Add("leadTimeDays", "must be 0 or more")
	}
	if !t.ChaletUnitPrice.IsPositive() {
		ie.Add("chaletUnitPrice", "must be greater than 0")
	}
	if !t.CeremonyFlatPrice.IsPositive() {
		ie.Add("ceremonyFlatPrice", "must be greater than 0")
	}

	if len(t.DayRateTiers) == 0 {
		ie.Add("dayRateTiers", "at least one tier is required")
		return ie.OrNil()
	}
	for i, tier := range t.DayRateTiers {
		field := fmt.Sprintf("dayRateTiers[%d]", i)
		if tier.MaxGuests <= 0 {
			ie.Add(field+".maxGuests", "must be greater than 0")
		}
		if !tier.Price.IsPositive() {
			ie.Add(field+".price", "must be greater than 0")
		}
		if i == 0 {
			continue
		}
		prev := t.DayRateTiers[i-1]
		if tier.MaxGuests <= prev.MaxGuests {
			ie.Add(field+".maxGuests", "thresholds must be strictly increasing")
		}
		if tier.Price.LessThan(prev.Price) {
			ie.Add(field+".price", "must not be lower than the previous tier")
		}
	}
	if last := t.DayRateTiers[len(t.DayRateTiers)-1]; t.MaxGuests > 0 && last.MaxGuests < t.MaxGuests {
		ie.Add("dayRateTiers", fmt.Sprintf("tiers must cover up to %d guests", t.MaxGuests))
	}
	return ie.OrNil()
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
