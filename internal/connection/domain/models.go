// Package domain contains persistence models for tenant gateway connections.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// TenantConnection stores one tenant's control plane endpoint and its
// encrypted credential. Rows are never hard-deleted; a disconnect only
// flips the status.
type TenantConnection struct {
	ID             snowflake.ID     `gorm:"primaryKey"`
	TenantID       snowflake.ID     `gorm:"not null;uniqueIndex:idx_tenant_control_plane"`
	ControlPlaneID string           `gorm:"type:text;uniqueIndex:idx_tenant_control_plane"`
	Endpoint       string           `gorm:"type:text;not null"`
	Credential     string           `gorm:"type:text"` // vault token
	Environment    string           `gorm:"type:text"`
	Status         ConnectionStatus `gorm:"type:text;not null"`
	LastSyncedAt   *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantConnection) TableName() string { return "tenant_connections" }
