// Package plan holds the pricing plan catalog. Plans are operator-owned
// configuration, loaded from a YAML file and hot-reloaded on change.
package plan

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ModelFlat   = "flat"
	ModelTiered = "tiered"
)

var ErrPlanNotFound = errors.New("plan_not_found")

// Tier prices the quantity range [From, To]. A nil To leaves the tier
// open-ended. When ranges overlap, the first matching tier wins.
type Tier struct {
	From      float64  `mapstructure:"from" json:"from"`
	To        *float64 `mapstructure:"to" json:"to"`
	UnitPrice float64  `mapstructure:"unitPrice" json:"unit_price"`
}

// Matches reports whether quantity falls inside the tier's range.
func (t Tier) Matches(quantity float64) bool {
	if quantity < t.From {
		return false
	}
	return t.To == nil || quantity <= *t.To
}

type RateLimits struct {
	Minute int `mapstructure:"minute" json:"minute"`
	Hour   int `mapstructure:"hour" json:"hour"`
	Day    int `mapstructure:"day" json:"day"`
}

// PricingPlan describes how one consumer's usage converts to cost.
type PricingPlan struct {
	Code       string  `mapstructure:"code" json:"code"`
	Name       string  `mapstructure:"name" json:"name"`
	Model      string  `mapstructure:"model" json:"model"`
	FlatPrice  float64 `mapstructure:"flatPrice" json:"flat_price"`
	Tiers      []Tier  `mapstructure:"tiers" json:"tiers"`
	MinimumFee float64 `mapstructure:"minimumFee" json:"minimum_fee"`
	// Prepaid plans debit the consumer wallet per billed unit.
	Prepaid bool `mapstructure:"prepaid" json:"prepaid"`
	// MonthlyQuota caps billable calls per rolling 30-day window.
	// Zero means unmetered.
	MonthlyQuota int64 `mapstructure:"monthlyQuota" json:"monthly_quota"`

	RateLimits RateLimits `mapstructure:"rateLimits" json:"rate_limits"`
}

// MatchTier returns the first tier whose range contains quantity, or -1
// when none matches.
func (p PricingPlan) MatchTier(quantity float64) int {
	for i, tier := range p.Tiers {
		if tier.Matches(quantity) {
			return i
		}
	}
	return -1
}

// Catalog is the full plan set from one config load.
type Catalog struct {
	Plans []PricingPlan `mapstructure:"plans" json:"plans"`
}

// ByCode finds a plan by its case-insensitive code.
func (c Catalog) ByCode(code string) (PricingPlan, error) {
	code = strings.TrimSpace(code)
	for _, p := range c.Plans {
		if strings.EqualFold(p.Code, code) {
			return p, nil
		}
	}
	return PricingPlan{}, ErrPlanNotFound
}

func validateCatalog(c Catalog) error {
	if len(c.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	seen := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		code := strings.ToLower(strings.TrimSpace(p.Code))
		if code == "" {
			return errors.New("plan code cannot be empty")
		}
		if seen[code] {
			return fmt.Errorf("duplicate plan code %q", p.Code)
		}
		seen[code] = true

		switch p.Model {
		case ModelFlat:
			if p.FlatPrice < 0 {
				return fmt.Errorf("plan %q: flatPrice cannot be negative", p.Code)
			}
		case ModelTiered:
			if len(p.Tiers) == 0 {
				return fmt.Errorf("plan %q: tiered model needs at least one tier", p.Code)
			}
			for i, tier := range p.Tiers {
				if tier.From < 0 || tier.UnitPrice < 0 {
					return fmt.Errorf("plan %q tier %d: negative bound or price", p.Code, i)
				}
				if tier.To != nil && *tier.To < tier.From {
					return fmt.Errorf("plan %q tier %d: to below from", p.Code, i)
				}
			}
		default:
			return fmt.Errorf("plan %q: unknown model %q", p.Code, p.Model)
		}

		if p.MinimumFee < 0 {
			return fmt.Errorf("plan %q: minimumFee cannot be negative", p.Code)
		}
		if p.MonthlyQuota < 0 {
			return fmt.Errorf("plan %q: monthlyQuota cannot be negative", p.Code)
		}
	}
	return nil
}
