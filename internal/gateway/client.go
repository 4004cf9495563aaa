package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrConnectivity marks the control plane as unreachable or answering
// outside 2xx. A sync cycle hitting it aborts for that tenant only.
var ErrConnectivity = errors.New("gateway_unreachable")

// StatusError wraps a non-2xx admin API response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrConnectivity }

// Client is the capability the reconciler and enforcement service depend
// on. One Client is built per tenant connection.
type Client interface {
	TestConnection(ctx context.Context) error
	FetchServices(ctx context.Context) ([]Service, error)
	FetchRoutes(ctx context.Context) ([]Route, error)
	FetchConsumers(ctx context.Context) ([]Consumer, error)
	PushPluginConfig(ctx context.Context, cfg PluginConfig) error
}

// ConnectionParams describes how to reach one tenant's control plane.
// ControlPlaneID is empty for a self-managed admin API and set for the
// cloud variant, which scopes core entities under the control plane.
type ConnectionParams struct {
	Endpoint       string
	Token          string
	ControlPlaneID string
}

// Factory builds Clients from decrypted connection parameters.
type Factory interface {
	Client(params ConnectionParams) Client
}
