// Package domain contains persistence models for the gateway catalog
// snapshot.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EntityKind string

const (
	KindService EntityKind = "service"
	KindRoute   EntityKind = "route"
)

type EntityStatus string

const (
	StatusActive   EntityStatus = "ACTIVE"
	StatusDisabled EntityStatus = "DISABLED"
)

// CatalogEntityMap is one remote service or route observed on a tenant's
// control plane, with a denormalized snapshot of the fields billing cares
// about. Rows are never deleted: an entity that disappears remotely flips
// to DISABLED and reactivates if it comes back.
type CatalogEntityMap struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null;uniqueIndex:idx_catalog_remote_entity,priority:1"`
	ControlPlaneID string       `gorm:"type:text;uniqueIndex:idx_catalog_remote_entity,priority:2"`
	RemoteID       string       `gorm:"type:text;not null;uniqueIndex:idx_catalog_remote_entity,priority:3"`
	Kind           EntityKind   `gorm:"type:text;not null;uniqueIndex:idx_catalog_remote_entity,priority:4"`

	Name     string `gorm:"type:text"`
	Host     string `gorm:"type:text"`
	Protocol string `gorm:"type:text"`

	// ParentRemoteID holds the owning service's remote ID for routes.
	// It is a snapshot, not a live join, so route rows stay valid even
	// if the service row is re-created with a new internal ID.
	ParentRemoteID string `gorm:"type:text"`

	BillingProductID *snowflake.ID
	Status           EntityStatus `gorm:"type:text;not null;index"`
	LastSeenAt       time.Time
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CatalogEntityMap) TableName() string { return "catalog_entity_maps" }
