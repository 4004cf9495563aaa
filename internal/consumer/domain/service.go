package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrConsumerNotFound = errors.New("consumer_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidPlan      = errors.New("invalid_plan")
)

// SyncResult summarizes one consumer import pass.
type SyncResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
}

type Service interface {
	// SyncConsumers imports the tenant's gateway consumers into billing
	// accounts. New consumers start ACTIVE on the default plan.
	SyncConsumers(ctx context.Context, tenantID snowflake.ID) (*SyncResult, error)

	Get(ctx context.Context, accountID snowflake.ID) (*ConsumerAccount, error)
	GetByRemoteID(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) (*ConsumerAccount, error)
	List(ctx context.Context, tenantID snowflake.ID) ([]*ConsumerAccount, error)

	AssignPlan(ctx context.Context, accountID snowflake.ID, planCode string) error

	// AdjustBalance applies delta to the wallet in a single atomic
	// update and returns the resulting account. It never refuses a
	// debit: the balance is allowed to cross zero.
	AdjustBalance(ctx context.Context, accountID snowflake.ID, delta float64) (*ConsumerAccount, error)

	SetStatus(ctx context.Context, accountID snowflake.ID, status AccountStatus) error

	// MarkEnforced records when a gateway-side enforcement push last
	// touched the account.
	MarkEnforced(ctx context.Context, accountID snowflake.ID, at time.Time) error
}
