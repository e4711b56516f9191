// Package catalog maps external price identifiers to internal plan tiers
// and derives plan entitlements. The catalog is deployed configuration,
// immutable once the process starts.
package catalog

// PlanKey identifies a subscription tier.
type PlanKey string

const (
	PlanNone    PlanKey = "no_plan"
	PlanFree    PlanKey = "free"
	PlanStarter PlanKey = "starter"
	PlanGrower  PlanKey = "grower"
	PlanBuilder PlanKey = "builder"
)

// Paid reports whether the plan is a paid tier.
func (p PlanKey) Paid() bool {
	switch p {
	case PlanStarter, PlanGrower, PlanBuilder:
		return true
	default:
		return false
	}
}

func (p PlanKey) Valid() bool {
	switch p {
	case PlanNone, PlanFree, PlanStarter, PlanGrower, PlanBuilder:
		return true
	default:
		return false
	}
}

// BillingPeriod is the cadence a plan renews on.
type BillingPeriod string

const (
	PeriodNone    BillingPeriod = "none"
	PeriodMonthly BillingPeriod = "monthly"
	PeriodAnnual  BillingPeriod = "annual"
)

func (b BillingPeriod) Valid() bool {
	switch b {
	case PeriodNone, PeriodMonthly, PeriodAnnual:
		return true
	default:
		return false
	}
}

// Limits are plan entitlements derived at read time, never stored, so they
// cannot drift from the plan field.
type Limits struct {
	Contacts  int
	Locations int
}

func LimitsFor(plan PlanKey) Limits {
	switch plan {
	case PlanStarter:
		return Limits{Contacts: 500, Locations: 1}
	case PlanGrower:
		return Limits{Contacts: 2500, Locations: 3}
	case PlanBuilder:
		return Limits{Contacts: 10000, Locations: 10}
	case PlanFree:
		return Limits{Contacts: 50, Locations: 1}
	default:
		return Limits{}
	}
}

// IncludedCreditsFor is the prepaid review-request credit allotment granted
// each billing cycle. Annual plans receive a full year up front.
func IncludedCreditsFor(plan PlanKey, period BillingPeriod) int64 {
	var monthly int64
	switch plan {
	case PlanStarter:
		monthly = 100
	case PlanGrower:
		monthly = 500
	case PlanBuilder:
		monthly = 2000
	default:
		return 0
	}
	if period == PeriodAnnual {
		return monthly * 12
	}
	return monthly
}
