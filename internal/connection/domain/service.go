package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/gatemeter/internal/gateway"
)

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidEndpoint    = errors.New("invalid_endpoint")
	ErrConnectionNotFound = errors.New("connection_not_found")
	ErrNotConnected       = errors.New("connection_not_connected")
)

type ConnectRequest struct {
	TenantID       string `json:"tenant_id"`
	Endpoint       string `json:"endpoint"`
	Credential     string `json:"credential"`
	Environment    string `json:"environment"`
	ControlPlaneID string `json:"control_plane_id"`
}

type Service interface {
	// Connect encrypts and stores the credential, then probes the remote
	// admin API. The resulting status reflects the probe outcome.
	Connect(ctx context.Context, req ConnectRequest) (*TenantConnection, error)
	Test(ctx context.Context, tenantID snowflake.ID) error
	Disconnect(ctx context.Context, tenantID snowflake.ID) error
	Get(ctx context.Context, tenantID snowflake.ID) (*TenantConnection, error)
	ListConnected(ctx context.Context) ([]*TenantConnection, error)

	// ClientFor decrypts the stored credential and builds a gateway
	// client for the tenant's control plane.
	ClientFor(ctx context.Context, tenantID snowflake.ID) (gateway.Client, *TenantConnection, error)
	MarkSynced(ctx context.Context, tenantID snowflake.ID, at time.Time) error
}
