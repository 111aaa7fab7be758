package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chacara_booking/internal/domain"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPriceForGuests_Tiers(t *testing.T) {
	pt := domain.DefaultPriceTable()

	cases := []struct {
		guests int
		want   int64
	}{
		{1, 1000}, {30, 1000}, {31, 1500}, {60, 1500}, {61, 2000},
		{100, 2000}, {101, 2500}, {200, 2500},
		{500, 2500}, // beyond every threshold falls back to the last tier
	}
	for _, c := range cases {
		got := pt.PriceForGuests(c.guests)
		assert.Truef(t, dec(c.want).Equal(got), "guests=%d: want %d got %s", c.guests, c.want, got)
	}
}

func TestPriceForGuests_Monotonic(t *testing.T) {
	pt := domain.DefaultPriceTable()
	prev := pt.PriceForGuests(1)
	for g := 2; g <= pt.MaxGuests; g++ {
		cur := pt.PriceForGuests(g)
		require.Falsef(t, cur.LessThan(prev), "price decreased at %d guests", g)

		matches := 0
		for _, tier := range pt.DayRateTiers {
			if tier.Price.Equal(cur) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "price must come from exactly one tier")
		prev = cur
	}
}

func TestPriceForGuests_EmptyTable(t *testing.T) {
	assert.True(t, domain.PriceTable{}.PriceForGuests(10).IsZero())
}

func TestClamp(t *testing.T) {
	pt := domain.DefaultPriceTable()

	assert.Equal(t, 200, pt.ClampGuests(201))
	assert.Equal(t, 1, pt.ClampGuests(0))
	assert.Equal(t, 1, pt.ClampGuests(-7))
	assert.Equal(t, 40, pt.ClampGuests(40))

	assert.Equal(t, 4, pt.ClampChalets(9))
	assert.Equal(t, 0, pt.ClampChalets(-1))
	assert.Equal(t, 2, pt.ClampChalets(2))
}

func TestPriceTable_Validate(t *testing.T) {
	require.NoError(t, domain.DefaultPriceTable().Validate())

	bad := domain.DefaultPriceTable()
	bad.DayRateTiers = []domain.PriceTier{
		{MaxGuests: 30, Price: dec(1000)},
		{MaxGuests: 30, Price: dec(900)},
		{MaxGuests: 100, Price: dec(0)},
	}
	bad.ChaletUnitPrice = decimal.Zero
	bad.LeadTimeDays = -1

	err := bad.Validate()
	ie := domain.AsInputError(err)
	require.NotNil(t, ie, "expected InputError, got %v", err)

	fields := ie.Fields()
	assert.Contains(t, fields, "dayRateTiers[1].maxGuests")
	assert.Contains(t, fields, "dayRateTiers[1].price")
	assert.Contains(t, fields, "dayRateTiers[2].price")
	assert.Contains(t, fields, "dayRateTiers") // does not reach maxGuests=200
	assert.Contains(t, fields, "chaletUnitPrice")
	assert.Contains(t, fields, "leadTimeDays")
}

func TestPriceTable_ValidateEmptyTiers(t *testing.T) {
	pt := domain.DefaultPriceTable()
	pt.DayRateTiers = nil
	ie := domain.AsInputError(pt.Validate())
	require.NotNil(t, ie)
	assert.Equal(t, []string{"at least one tier is required"}, ie.Fields()["dayRateTiers"])
}

func TestPriceTable_Normalized(t *testing.T) {
	pt := domain.DefaultPriceTable()
	pt.DayRateTiers[0], pt.DayRateTiers[3] = pt.DayRateTiers[3], pt.DayRateTiers[0]

	n := pt.Normalized()
	for i := 1; i < len(n.DayRateTiers); i++ {
		assert.Less(t, n.DayRateTiers[i-1].MaxGuests, n.DayRateTiers[i].MaxGuests)
	}
	assert.Equal(t, 200, pt.DayRateTiers[0].MaxGuests, "input must not be reordered")
}
