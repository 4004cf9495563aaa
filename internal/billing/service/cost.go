package service

import (
	billingdomain "github.com/smallbiznis/gatemeter/internal/billing/domain"
	"github.com/smallbiznis/gatemeter/internal/plan"
)

// CalculateCost prices units of usage at the given position in the
// consumer's rolling window. Tiered plans match the position against
// the ordered tier list; when ranges overlap the first matching tier
// wins, and an open-ended tier (To == nil) matches everything at or
// above its From. The plan's minimum fee floors the result.
func CalculateCost(p plan.PricingPlan, position, units float64) (float64, error) {
	if units <= 0 {
		units = 1
	}

	var cost float64
	switch p.Model {
	case plan.ModelFlat:
		cost = units * p.FlatPrice
	case plan.ModelTiered:
		idx := p.MatchTier(position)
		if idx < 0 {
			return 0, billingdomain.ErrNoMatchingTier
		}
		cost = units * p.Tiers[idx].UnitPrice
	default:
		return 0, billingdomain.ErrPlanUnavailable
	}

	if cost < p.MinimumFee {
		cost = p.MinimumFee
	}
	return cost, nil
}
