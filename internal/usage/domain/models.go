// Package domain contains persistence models for raw usage ingestion.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ResolutionStatus tracks the async mapping of a usage event to catalog
// and consumer rows.
type ResolutionStatus string

const (
	// ResolutionPending means the event still awaits mapping; the
	// billing sweep retries it.
	ResolutionPending ResolutionStatus = "PENDING"
	// ResolutionResolved means billing references are populated.
	ResolutionResolved ResolutionStatus = "RESOLVED"
	// ResolutionUnresolvable is terminal: the attempt budget ran out.
	ResolutionUnresolvable ResolutionStatus = "UNRESOLVABLE"
)

// UsageEvent stores a single gateway request observation. The unique
// (tenant_id, correlation_id) constraint is the authoritative dedup
// guard under at-least-once webhook delivery.
type UsageEvent struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	TenantID      snowflake.ID `gorm:"not null;uniqueIndex:idx_usage_correlation,priority:1"`
	CorrelationID string       `gorm:"type:text;not null;uniqueIndex:idx_usage_correlation,priority:2"`

	RemoteConsumerID string `gorm:"type:text;index"`
	RemoteServiceID  string `gorm:"type:text"`
	RemoteRouteID    string `gorm:"type:text"`

	Method     string `gorm:"type:text;not null"`
	Path       string `gorm:"type:text;not null"`
	StatusCode int    `gorm:"not null"`
	LatencyMs  int64

	StartedAt time.Time `gorm:"not null;index"`

	// Billing references, populated by async resolution.
	ServiceEntityID   *snowflake.ID
	RouteEntityID     *snowflake.ID
	ConsumerAccountID *snowflake.ID `gorm:"index"`

	Resolution      ResolutionStatus `gorm:"type:text;not null;index"`
	ResolveAttempts int              `gorm:"not null;default:0"`

	Billed   bool `gorm:"not null;default:false;index"`
	BilledAt *time.Time
	Cost     float64 `gorm:"not null;default:0"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
