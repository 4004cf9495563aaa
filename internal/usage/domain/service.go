package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/gatemeter/pkg/db/pagination"
)

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrMalformedPayload = errors.New("malformed_payload")
)

// IngestResult summarizes one webhook delivery. Duplicates and drops
// are acknowledged, not errors.
type IngestResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
	// Failed counts events that hit a storage error; the caller's
	// batch retry re-delivers them safely because accepted siblings
	// dedup on the correlation ID.
	Failed int `json:"failed"`
}

type ListUsageRequest struct {
	TenantID   string `json:"tenant_id"`
	ConsumerID string `json:"consumer_id"`
	Resolution string `json:"resolution"`
	PageToken  string `json:"page_token"`
	PageSize   int32  `json:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageEvents []UsageEvent `json:"usage_events"`
}

// ResolveOutcome summarizes one mapping resolution pass.
type ResolveOutcome struct {
	Resolved     int `json:"resolved"`
	Unresolvable int `json:"unresolvable"`
	Pending      int `json:"pending"`
}

type Service interface {
	// Ingest accepts one JSON event object or an array of them. A
	// payload that does not parse is rejected whole; individual events
	// are then processed independently.
	Ingest(ctx context.Context, tenantID snowflake.ID, raw []byte) (*IngestResult, error)

	List(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)

	// ResolvePending retries mapping for the tenant's PENDING events,
	// flipping each to RESOLVED or, once the attempt budget is spent,
	// UNRESOLVABLE.
	ResolvePending(ctx context.Context, tenantID snowflake.ID) (*ResolveOutcome, error)
}
