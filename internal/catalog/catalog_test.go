package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureEntries() []Entry {
	return []Entry{
		{Plan: PlanStarter, Period: PeriodMonthly, PriceID: "price_starter_m"},
		{Plan: PlanStarter, Period: PeriodAnnual, PriceID: "price_starter_y"},
		{Plan: PlanGrower, Period: PeriodMonthly, PriceID: "price_grower_m"},
		{Plan: PlanGrower, Period: PeriodAnnual, PriceID: "price_grower_y"},
		{Plan: PlanBuilder, Period: PeriodMonthly, PriceID: "price_builder_m"},
		{Plan: PlanBuilder, Period: PeriodAnnual, PriceID: "price_builder_y"},
	}
}

func TestResolveRoundTrip(t *testing.T) {
	c, err := New(fixtureEntries())
	require.NoError(t, err)

	for _, e := range fixtureEntries() {
		pp, err := c.Resolve(e.PriceID)
		require.NoError(t, err, e.PriceID)
		assert.Equal(t, e.Plan, pp.Plan)
		assert.Equal(t, e.Period, pp.Period)

		priceID, err := c.PriceIDFor(e.Plan, e.Period)
		require.NoError(t, err)
		assert.Equal(t, e.PriceID, priceID)
	}
}

func TestResolveUnknownPrice(t *testing.T) {
	c, err := New(fixtureEntries())
	require.NoError(t, err)

	_, err = c.Resolve("price_does_not_exist")
	assert.ErrorIs(t, err, ErrPriceNotFound)

	_, err = c.PriceIDFor(PlanFree, PeriodMonthly)
	assert.ErrorIs(t, err, ErrPriceNotConfigured)
}

func TestNewRejectsAmbiguousMapping(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{
			name: "duplicate price id",
			entries: []Entry{
				{Plan: PlanStarter, Period: PeriodMonthly, PriceID: "price_dup"},
				{Plan: PlanGrower, Period: PeriodMonthly, PriceID: "price_dup"},
			},
		},
		{
			name: "duplicate plan period",
			entries: []Entry{
				{Plan: PlanStarter, Period: PeriodMonthly, PriceID: "price_a"},
				{Plan: PlanStarter, Period: PeriodMonthly, PriceID: "price_b"},
			},
		},
		{
			name: "free plan has no price",
			entries: []Entry{
				{Plan: PlanFree, Period: PeriodMonthly, PriceID: "price_free"},
			},
		},
		{
			name: "empty price id",
			entries: []Entry{
				{Plan: PlanStarter, Period: PeriodMonthly, PriceID: " "},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entries)
			assert.Error(t, err)
		})
	}
}

func TestIncludedCreditsFor(t *testing.T) {
	assert.Equal(t, int64(100), IncludedCreditsFor(PlanStarter, PeriodMonthly))
	assert.Equal(t, int64(1200), IncludedCreditsFor(PlanStarter, PeriodAnnual))
	assert.Equal(t, int64(500), IncludedCreditsFor(PlanGrower, PeriodMonthly))
	assert.Equal(t, int64(24000), IncludedCreditsFor(PlanBuilder, PeriodAnnual))
	assert.Zero(t, IncludedCreditsFor(PlanFree, PeriodMonthly))
	assert.Zero(t, IncludedCreditsFor(PlanNone, PeriodNone))
}

func TestLimitsDerivedFromPlan(t *testing.T) {
	assert.Equal(t, Limits{Contacts: 2500, Locations: 3}, LimitsFor(PlanGrower))
	assert.Zero(t, LimitsFor(PlanNone))
}
