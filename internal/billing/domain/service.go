// Package domain defines the metering and billing engine contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
)

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrNoMatchingTier  = errors.New("no_matching_tier")
	ErrPlanUnavailable = errors.New("plan_unavailable")
)

// SweepResult summarizes one billing sweep for a tenant.
type SweepResult struct {
	Billed    int     `json:"billed"`
	Failed    int     `json:"failed"`
	Suspended int     `json:"suspended"`
	TotalCost float64 `json:"total_cost"`
}

type Service interface {
	// ProcessUnbilled retries pending mapping resolution, then bills
	// every resolved, unbilled event inside the sweep window.
	ProcessUnbilled(ctx context.Context, tenantID snowflake.ID) (*SweepResult, error)

	// TopUp atomically credits the wallet. A suspended account whose
	// balance climbs back above zero resumes.
	TopUp(ctx context.Context, accountID snowflake.ID, amount float64) (*consumerdomain.ConsumerAccount, error)

	// IsApproachingQuota compares the rolling 30-day request count
	// against the plan's monthly quota. Read-only.
	IsApproachingQuota(ctx context.Context, accountID snowflake.ID, thresholdPct float64) (bool, error)
}
