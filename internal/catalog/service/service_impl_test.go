package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/smallbiznis/gatemeter/internal/catalog/domain"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
)

type fakeGatewayClient struct {
	services []gateway.Service
	routes   []gateway.Route
	err      error
}

func (f *fakeGatewayClient) TestConnection(ctx context.Context) error { return f.err }

func (f *fakeGatewayClient) FetchServices(ctx context.Context) ([]gateway.Service, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.services, nil
}

func (f *fakeGatewayClient) FetchRoutes(ctx context.Context) ([]gateway.Route, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.routes, nil
}

func (f *fakeGatewayClient) FetchConsumers(ctx context.Context) ([]gateway.Consumer, error) {
	return nil, nil
}

func (f *fakeGatewayClient) PushPluginConfig(ctx context.Context, cfg gateway.PluginConfig) error {
	return nil
}

type fakeConnections struct {
	client    *fakeGatewayClient
	conn      *connectiondomain.TenantConnection
	syncedAt  *time.Time
	clientErr error
}

func (f *fakeConnections) Connect(ctx context.Context, req connectiondomain.ConnectRequest) (*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (f *fakeConnections) Test(ctx context.Context, tenantID snowflake.ID) error       { return nil }
func (f *fakeConnections) Disconnect(ctx context.Context, tenantID snowflake.ID) error { return nil }
func (f *fakeConnections) Get(ctx context.Context, tenantID snowflake.ID) (*connectiondomain.TenantConnection, error) {
	return f.conn, nil
}
func (f *fakeConnections) ListConnected(ctx context.Context) ([]*connectiondomain.TenantConnection, error) {
	return []*connectiondomain.TenantConnection{f.conn}, nil
}
func (f *fakeConnections) ClientFor(ctx context.Context, tenantID snowflake.ID) (gateway.Client, *connectiondomain.TenantConnection, error) {
	if f.clientErr != nil {
		return nil, nil, f.clientErr
	}
	return f.client, f.conn, nil
}
func (f *fakeConnections) MarkSynced(ctx context.Context, tenantID snowflake.ID, at time.Time) error {
	f.syncedAt = &at
	return nil
}

func setupCatalog(t *testing.T) (*gorm.DB, catalogdomain.Service, *fakeGatewayClient, snowflake.ID) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&catalogdomain.CatalogEntityMap{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM catalog_entity_maps")
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tenantID := node.Generate()
	client := &fakeGatewayClient{}
	conns := &fakeConnections{
		client: client,
		conn: &connectiondomain.TenantConnection{
			ID:             node.Generate(),
			TenantID:       tenantID,
			ControlPlaneID: "cp-1",
			Status:         connectiondomain.StatusConnected,
		},
	}

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Connections: conns,
	})
	return db, svc, client, tenantID
}

func TestPreviewComputesDiff(t *testing.T) {
	_, svc, client, tenantID := setupCatalog(t)
	ctx := context.Background()

	// Seed local state {A, B} via a first apply.
	client.services = []gateway.Service{
		{ID: "svc-a", Name: "orders", Host: "orders.internal", Protocol: "http"},
		{ID: "svc-b", Name: "payments", Host: "payments.internal", Protocol: "http"},
	}
	_, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)

	// Remote becomes {B with a new host, C}.
	client.services = []gateway.Service{
		{ID: "svc-b", Name: "payments", Host: "payments-v2.internal", Protocol: "http"},
		{ID: "svc-c", Name: "refunds", Host: "refunds.internal", Protocol: "http"},
	}

	diff, err := svc.Preview(ctx, tenantID)
	require.NoError(t, err)

	require.Len(t, diff.Services.Added, 1)
	assert.Equal(t, "svc-c", diff.Services.Added[0].RemoteID)
	require.Len(t, diff.Services.Changed, 1)
	assert.Equal(t, "svc-b", diff.Services.Changed[0].RemoteID)
	require.Len(t, diff.Services.Removed, 1)
	assert.Equal(t, "svc-a", diff.Services.Removed[0].RemoteID)
	assert.True(t, diff.Routes.Empty())
}

func TestPreviewDoesNotMutate(t *testing.T) {
	db, svc, client, tenantID := setupCatalog(t)
	ctx := context.Background()

	client.services = []gateway.Service{
		{ID: "svc-a", Name: "orders", Host: "orders.internal", Protocol: "http"},
	}

	diff, err := svc.Preview(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, diff.Services.Added, 1)

	var count int64
	require.NoError(t, db.Model(&catalogdomain.CatalogEntityMap{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestApplyIsIdempotent(t *testing.T) {
	_, svc, client, tenantID := setupCatalog(t)
	ctx := context.Background()

	client.services = []gateway.Service{
		{ID: "svc-a", Name: "orders", Host: "orders.internal", Protocol: "http"},
	}
	client.routes = []gateway.Route{
		{ID: "rt-1", Name: "orders-route", ServiceID: "svc-a", Hosts: []string{"api.example.com"}, Protocols: []string{"https"}},
	}

	first, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)
	assert.Zero(t, first.Updated)
	assert.Zero(t, first.Failed)

	second, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, second.Imported)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Failed)

	diff, err := svc.Preview(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestApplyDisablesMissingAndReactivates(t *testing.T) {
	db, svc, client, tenantID := setupCatalog(t)
	ctx := context.Background()

	client.services = []gateway.Service{
		{ID: "svc-a", Name: "orders", Host: "orders.internal", Protocol: "http"},
	}
	_, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)

	// Entity disappears remotely: it must flip to DISABLED, never delete.
	client.services = nil
	res, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	var row catalogdomain.CatalogEntityMap
	require.NoError(t, db.Where("remote_id = ?", "svc-a").First(&row).Error)
	assert.Equal(t, catalogdomain.StatusDisabled, row.Status)

	// It comes back: the same row reactivates instead of colliding.
	client.services = []gateway.Service{
		{ID: "svc-a", Name: "orders", Host: "orders.internal", Protocol: "http"},
	}
	res, err = svc.Apply(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Imported)

	var count int64
	require.NoError(t, db.Model(&catalogdomain.CatalogEntityMap{}).Where("remote_id = ?", "svc-a").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	require.NoError(t, db.Where("remote_id = ?", "svc-a").First(&row).Error)
	assert.Equal(t, catalogdomain.StatusActive, row.Status)
}

func TestApplyAbortsOnFetchFailure(t *testing.T) {
	db, svc, client, tenantID := setupCatalog(t)
	ctx := context.Background()

	client.services = []gateway.Service{
		{ID: "svc-a", Name: "orders", Host: "orders.internal", Protocol: "http"},
	}
	_, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)

	client.err = &gateway.StatusError{Status: 503, Body: "upstream down"}
	_, err = svc.Apply(ctx, tenantID)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalogdomain.ErrFetchFailed)

	// The snapshot is untouched: nothing got disabled by the failed pass.
	var row catalogdomain.CatalogEntityMap
	require.NoError(t, db.Where("remote_id = ?", "svc-a").First(&row).Error)
	assert.Equal(t, catalogdomain.StatusActive, row.Status)
}

func TestResolveFindsDisabledRows(t *testing.T) {
	_, svc, client, tenantID := setupCatalog(t)
	ctx := context.Background()

	client.routes = []gateway.Route{
		{ID: "rt-1", Name: "orders-route", ServiceID: "svc-a", Hosts: []string{"api.example.com"}, Protocols: []string{"https"}},
	}
	_, err := svc.Apply(ctx, tenantID)
	require.NoError(t, err)

	client.routes = nil
	_, err = svc.Apply(ctx, tenantID)
	require.NoError(t, err)

	row, err := svc.Resolve(ctx, tenantID, catalogdomain.KindRoute, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, catalogdomain.StatusDisabled, row.Status)
	assert.Equal(t, "svc-a", row.ParentRemoteID)

	missing, err := svc.Resolve(ctx, tenantID, catalogdomain.KindRoute, "rt-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
