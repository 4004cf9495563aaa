// Package domain contains persistence models for billing consumer
// accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVE"
	StatusSuspended AccountStatus = "SUSPENDED"
	// StatusTerminated marks an account retired by the operator; it is
	// never set by the billing sweep and terminal once set.
	StatusTerminated AccountStatus = "TERMINATED"
)

// DefaultCurrency is assigned to imported accounts until the tenant's
// billing currency is configured.
const DefaultCurrency = "USD"

// ConsumerAccount is the billing-side identity for one gateway consumer.
// Balance is a prepaid wallet in the tenant's billing currency; it may
// go negative on the debit that exhausts it.
type ConsumerAccount struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	TenantID         snowflake.ID `gorm:"not null;uniqueIndex:idx_consumer_remote,priority:1"`
	RemoteConsumerID string       `gorm:"type:text;not null;uniqueIndex:idx_consumer_remote,priority:2"`

	Username string `gorm:"type:text"`
	CustomID string `gorm:"type:text"`

	PlanCode string        `gorm:"type:text"`
	Balance  float64       `gorm:"not null;default:0"`
	Currency string        `gorm:"type:text;not null;default:'USD'"`
	Status   AccountStatus `gorm:"type:text;not null;index"`

	SuspendedAt    *time.Time
	LastEnforcedAt *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConsumerAccount) TableName() string { return "consumer_accounts" }
