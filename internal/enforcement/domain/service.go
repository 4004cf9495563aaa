// Package domain defines the enforcement capability: pushing billing
// decisions back to the tenant's gateway.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/gatemeter/internal/gateway"
)

var (
	ErrInvalidConsumer = errors.New("invalid_consumer")
	ErrInvalidLimits   = errors.New("invalid_limits")
)

// Service pushes plugin configuration to the remote gateway. Local
// account state changes only after the remote call is accepted.
type Service interface {
	EnforceRateLimits(ctx context.Context, tenantID snowflake.ID, planCode, groupID string, limits gateway.RateLimits) error
	SuspendConsumer(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) error
	ResumeConsumer(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) error
}
