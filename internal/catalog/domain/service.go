package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrFetchFailed   = errors.New("catalog_fetch_failed")
)

// EntityRef identifies one remote entity inside a diff.
type EntityRef struct {
	RemoteID string `json:"remote_id"`
	Name     string `json:"name"`
}

type ChangeSet struct {
	Added   []EntityRef `json:"added"`
	Changed []EntityRef `json:"changed"`
	Removed []EntityRef `json:"removed"`
}

func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

// Diff is the tenant-scoped difference between the remote catalog and the
// local snapshot, computed independently for services and routes.
type Diff struct {
	Services ChangeSet `json:"services"`
	Routes   ChangeSet `json:"routes"`
}

func (d Diff) Empty() bool { return d.Services.Empty() && d.Routes.Empty() }

// ImportResult summarizes one apply pass. Failed counts per-entity
// persistence failures; they do not abort the remaining entities.
type ImportResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

type Service interface {
	// Preview computes the diff without mutating the snapshot.
	Preview(ctx context.Context, tenantID snowflake.ID) (*Diff, error)
	// Apply reconciles the snapshot with the remote catalog. Running it
	// twice with no remote change performs zero further mutations.
	Apply(ctx context.Context, tenantID snowflake.ID) (*ImportResult, error)
	// Resolve finds the mapping row for a remote entity, active or not.
	Resolve(ctx context.Context, tenantID snowflake.ID, kind EntityKind, remoteID string) (*CatalogEntityMap, error)
}
