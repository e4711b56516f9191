package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPriceNotFound      = errors.New("price_not_found")
	ErrPriceNotConfigured = errors.New("price_not_configured")
)

// Entry binds one (plan, period) pair to the payment platform's price ID.
type Entry struct {
	Plan    PlanKey       `mapstructure:"plan"`
	Period  BillingPeriod `mapstructure:"period"`
	PriceID string        `mapstructure:"price_id"`
}

// PlanPrice is the result of a reverse lookup.
type PlanPrice struct {
	Plan   PlanKey
	Period BillingPeriod
}

// Catalog is an immutable bidirectional price mapping. Both directions are
// unambiguous: construction fails on any duplicate price ID or duplicate
// (plan, period) pair.
type Catalog struct {
	byPrice map[string]PlanPrice
	byPlan  map[PlanPrice]string
}

func New(entries []Entry) (*Catalog, error) {
	byPrice := make(map[string]PlanPrice, len(entries))
	byPlan := make(map[PlanPrice]string, len(entries))

	for _, e := range entries {
		priceID := strings.TrimSpace(e.PriceID)
		if priceID == "" {
			return nil, fmt.Errorf("catalog entry %s/%s: empty price id", e.Plan, e.Period)
		}
		if !e.Plan.Valid() || !e.Plan.Paid() {
			return nil, fmt.Errorf("catalog entry %q: plan %q is not a paid tier", priceID, e.Plan)
		}
		if e.Period != PeriodMonthly && e.Period != PeriodAnnual {
			return nil, fmt.Errorf("catalog entry %q: invalid period %q", priceID, e.Period)
		}

		key := PlanPrice{Plan: e.Plan, Period: e.Period}
		if _, ok := byPrice[priceID]; ok {
			return nil, fmt.Errorf("catalog: price id %q mapped twice", priceID)
		}
		if _, ok := byPlan[key]; ok {
			return nil, fmt.Errorf("catalog: plan %s/%s mapped twice", e.Plan, e.Period)
		}
		byPrice[priceID] = key
		byPlan[key] = priceID
	}

	return &Catalog{byPrice: byPrice, byPlan: byPlan}, nil
}

// Resolve maps an external price ID back to its plan and period. Callers must
// treat ErrPriceNotFound as terminal; a plan is never guessed or defaulted.
func (c *Catalog) Resolve(priceID string) (PlanPrice, error) {
	pp, ok := c.byPrice[strings.TrimSpace(priceID)]
	if !ok {
		return PlanPrice{}, ErrPriceNotFound
	}
	return pp, nil
}

func (c *Catalog) PriceIDFor(plan PlanKey, period BillingPeriod) (string, error) {
	priceID, ok := c.byPlan[PlanPrice{Plan: plan, Period: period}]
	if !ok {
		return "", ErrPriceNotConfigured
	}
	return priceID, nil
}

// Size reports the number of configured prices.
func (c *Catalog) Size() int {
	return len(c.byPrice)
}
