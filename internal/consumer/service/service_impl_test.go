package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
	"github.com/smallbiznis/gatemeter/internal/plan"
)

type stubClient struct {
	consumers []gateway.Consumer
	err       error
}

func (s *stubClient) TestConnection(ctx context.Context) error { return nil }
func (s *stubClient) FetchServices(ctx context.Context) ([]gateway.Service, error) {
	return nil, nil
}
func (s *stubClient) FetchRoutes(ctx context.Context) ([]gateway.Route, error) { return nil, nil }
func (s *stubClient) FetchConsumers(ctx context.Context) ([]gateway.Consumer, error) {
	return s.consumers, s.err
}
func (s *stubClient) PushPluginConfig(ctx context.Context, cfg gateway.PluginConfig) error {
	return nil
}

type stubConnections struct {
	client *stubClient
}

func (s *stubConnections) Connect(ctx context.Context, req connectiondomain.ConnectRequest) (*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (s *stubConnections) Test(ctx context.Context, tenantID snowflake.ID) error       { return nil }
func (s *stubConnections) Disconnect(ctx context.Context, tenantID snowflake.ID) error { return nil }
func (s *stubConnections) Get(ctx context.Context, tenantID snowflake.ID) (*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (s *stubConnections) ListConnected(ctx context.Context) ([]*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (s *stubConnections) ClientFor(ctx context.Context, tenantID snowflake.ID) (gateway.Client, *connectiondomain.TenantConnection, error) {
	return s.client, &connectiondomain.TenantConnection{TenantID: tenantID}, nil
}
func (s *stubConnections) MarkSynced(ctx context.Context, tenantID snowflake.ID, at time.Time) error {
	return nil
}

func setupConsumers(t *testing.T) (consumerdomain.Service, *stubClient, *snowflake.Node, snowflake.ID) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&consumerdomain.ConsumerAccount{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM consumer_accounts")
	})

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	plans, err := plan.NewHolder("", zap.NewNop())
	require.NoError(t, err)

	client := &stubClient{}
	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Plans:       plans,
		Connections: &stubConnections{client: client},
	})
	return svc, client, node, node.Generate()
}

func TestSyncConsumersImportsAndUpdates(t *testing.T) {
	svc, client, _, tenantID := setupConsumers(t)
	ctx := context.Background()

	client.consumers = []gateway.Consumer{
		{ID: "c-1", Username: "alice"},
		{ID: "c-2", Username: "bob", CustomID: "ext-2"},
	}

	res, err := svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Updated)

	account, err := svc.GetByRemoteID(ctx, tenantID, "c-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultPlanCode, account.PlanCode)
	assert.Equal(t, consumerdomain.DefaultCurrency, account.Currency)
	assert.Equal(t, consumerdomain.StatusActive, account.Status)

	// Re-sync with one renamed consumer: no duplicates, one update.
	client.consumers[0].Username = "alice-renamed"
	res, err = svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, res.Imported)
	assert.Equal(t, 1, res.Updated)

	accounts, err := svc.List(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestAdjustBalanceCrossesZero(t *testing.T) {
	svc, client, _, tenantID := setupConsumers(t)
	ctx := context.Background()

	client.consumers = []gateway.Consumer{{ID: "c-1", Username: "alice"}}
	_, err := svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)

	account, err := svc.GetByRemoteID(ctx, tenantID, "c-1")
	require.NoError(t, err)

	account, err = svc.AdjustBalance(ctx, account.ID, 5)
	require.NoError(t, err)
	assert.InDelta(t, 5, account.Balance, 1e-9)

	// A debit larger than the balance still lands and goes negative.
	account, err = svc.AdjustBalance(ctx, account.ID, -7)
	require.NoError(t, err)
	assert.InDelta(t, -2, account.Balance, 1e-9)
}

func TestAdjustBalanceConcurrentDebits(t *testing.T) {
	svc, client, _, tenantID := setupConsumers(t)
	ctx := context.Background()

	client.consumers = []gateway.Consumer{{ID: "c-1", Username: "alice"}}
	_, err := svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)

	account, err := svc.GetByRemoteID(ctx, tenantID, "c-1")
	require.NoError(t, err)
	_, err = svc.AdjustBalance(ctx, account.ID, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AdjustBalance(ctx, account.ID, -1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	account, err = svc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.InDelta(t, 90, account.Balance, 1e-9)
}

func TestAssignPlanValidatesCode(t *testing.T) {
	svc, client, _, tenantID := setupConsumers(t)
	ctx := context.Background()

	client.consumers = []gateway.Consumer{{ID: "c-1", Username: "alice"}}
	_, err := svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)

	account, err := svc.GetByRemoteID(ctx, tenantID, "c-1")
	require.NoError(t, err)

	require.NoError(t, svc.AssignPlan(ctx, account.ID, "standard"))
	account, err = svc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "standard", account.PlanCode)

	assert.ErrorIs(t, svc.AssignPlan(ctx, account.ID, "gold"), consumerdomain.ErrInvalidPlan)
	assert.ErrorIs(t, svc.AssignPlan(ctx, snowflake.ID(999), "standard"), consumerdomain.ErrConsumerNotFound)
}

func TestSetStatusTogglesSuspendedAt(t *testing.T) {
	svc, client, _, tenantID := setupConsumers(t)
	ctx := context.Background()

	client.consumers = []gateway.Consumer{{ID: "c-1", Username: "alice"}}
	_, err := svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)

	account, err := svc.GetByRemoteID(ctx, tenantID, "c-1")
	require.NoError(t, err)

	require.NoError(t, svc.SetStatus(ctx, account.ID, consumerdomain.StatusSuspended))
	account, err = svc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, consumerdomain.StatusSuspended, account.Status)
	assert.NotNil(t, account.SuspendedAt)

	require.NoError(t, svc.SetStatus(ctx, account.ID, consumerdomain.StatusActive))
	account, err = svc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, consumerdomain.StatusActive, account.Status)
	assert.Nil(t, account.SuspendedAt)

	require.NoError(t, svc.SetStatus(ctx, account.ID, consumerdomain.StatusTerminated))
	account, err = svc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, consumerdomain.StatusTerminated, account.Status)
}

func TestMarkEnforcedStampsTimestamp(t *testing.T) {
	svc, client, _, tenantID := setupConsumers(t)
	ctx := context.Background()

	client.consumers = []gateway.Consumer{{ID: "c-1", Username: "alice"}}
	_, err := svc.SyncConsumers(ctx, tenantID)
	require.NoError(t, err)

	account, err := svc.GetByRemoteID(ctx, tenantID, "c-1")
	require.NoError(t, err)
	require.Nil(t, account.LastEnforcedAt)

	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, svc.MarkEnforced(ctx, account.ID, at))

	account, err = svc.Get(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, account.LastEnforcedAt)
	assert.True(t, account.LastEnforcedAt.Equal(at))

	assert.ErrorIs(t, svc.MarkEnforced(ctx, snowflake.ID(999), at), consumerdomain.ErrConsumerNotFound)
}
