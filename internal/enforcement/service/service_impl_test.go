package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	enforcementdomain "github.com/smallbiznis/gatemeter/internal/enforcement/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
)

type pushClient struct {
	pushed  []gateway.PluginConfig
	pushErr error
}

func (p *pushClient) TestConnection(ctx context.Context) error { return nil }
func (p *pushClient) FetchServices(ctx context.Context) ([]gateway.Service, error) {
	return nil, nil
}
func (p *pushClient) FetchRoutes(ctx context.Context) ([]gateway.Route, error) { return nil, nil }
func (p *pushClient) FetchConsumers(ctx context.Context) ([]gateway.Consumer, error) {
	return nil, nil
}
func (p *pushClient) PushPluginConfig(ctx context.Context, cfg gateway.PluginConfig) error {
	if p.pushErr != nil {
		return p.pushErr
	}
	p.pushed = append(p.pushed, cfg)
	return nil
}

type connStub struct {
	client *pushClient
}

func (c *connStub) Connect(ctx context.Context, req connectiondomain.ConnectRequest) (*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (c *connStub) Test(ctx context.Context, tenantID snowflake.ID) error       { return nil }
func (c *connStub) Disconnect(ctx context.Context, tenantID snowflake.ID) error { return nil }
func (c *connStub) Get(ctx context.Context, tenantID snowflake.ID) (*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (c *connStub) ListConnected(ctx context.Context) ([]*connectiondomain.TenantConnection, error) {
	return nil, nil
}
func (c *connStub) ClientFor(ctx context.Context, tenantID snowflake.ID) (gateway.Client, *connectiondomain.TenantConnection, error) {
	return c.client, &connectiondomain.TenantConnection{TenantID: tenantID}, nil
}
func (c *connStub) MarkSynced(ctx context.Context, tenantID snowflake.ID, at time.Time) error {
	return nil
}

type accountStub struct {
	account    *consumerdomain.ConsumerAccount
	status     consumerdomain.AccountStatus
	enforcedAt *time.Time
}

func (a *accountStub) SyncConsumers(ctx context.Context, tenantID snowflake.ID) (*consumerdomain.SyncResult, error) {
	return nil, nil
}
func (a *accountStub) Get(ctx context.Context, accountID snowflake.ID) (*consumerdomain.ConsumerAccount, error) {
	return a.account, nil
}
func (a *accountStub) GetByRemoteID(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) (*consumerdomain.ConsumerAccount, error) {
	if a.account == nil {
		return nil, consumerdomain.ErrConsumerNotFound
	}
	return a.account, nil
}
func (a *accountStub) List(ctx context.Context, tenantID snowflake.ID) ([]*consumerdomain.ConsumerAccount, error) {
	return nil, nil
}
func (a *accountStub) AssignPlan(ctx context.Context, accountID snowflake.ID, planCode string) error {
	return nil
}
func (a *accountStub) AdjustBalance(ctx context.Context, accountID snowflake.ID, delta float64) (*consumerdomain.ConsumerAccount, error) {
	return a.account, nil
}
func (a *accountStub) SetStatus(ctx context.Context, accountID snowflake.ID, status consumerdomain.AccountStatus) error {
	a.status = status
	return nil
}
func (a *accountStub) MarkEnforced(ctx context.Context, accountID snowflake.ID, at time.Time) error {
	a.enforcedAt = &at
	return nil
}

func setupEnforcement(t *testing.T) (enforcementdomain.Service, *pushClient, *accountStub, snowflake.ID) {
	t.Helper()
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	client := &pushClient{}
	accounts := &accountStub{
		account: &consumerdomain.ConsumerAccount{
			ID:               node.Generate(),
			RemoteConsumerID: "c-1",
			Status:           consumerdomain.StatusActive,
		},
	}
	svc := NewService(ServiceParam{
		Log:         zap.NewNop(),
		Connections: &connStub{client: client},
		Consumers:   accounts,
	})
	return svc, client, accounts, node.Generate()
}

func TestSuspendPushesBeforeLocalUpdate(t *testing.T) {
	svc, client, accounts, tenantID := setupEnforcement(t)
	ctx := context.Background()

	require.NoError(t, svc.SuspendConsumer(ctx, tenantID, "c-1"))

	require.Len(t, client.pushed, 1)
	cfg := client.pushed[0]
	assert.Equal(t, "request-termination", cfg.Name)
	assert.Equal(t, "c-1", cfg.ConsumerID)
	assert.True(t, cfg.Enabled)
	require.NotNil(t, cfg.Termination)
	assert.Equal(t, 402, cfg.Termination.StatusCode)
	assert.Equal(t, consumerdomain.StatusSuspended, accounts.status)
	assert.NotNil(t, accounts.enforcedAt, "an accepted push stamps the enforcement time")
}

func TestSuspendKeepsLocalStateOnPushFailure(t *testing.T) {
	svc, client, accounts, tenantID := setupEnforcement(t)
	ctx := context.Background()

	client.pushErr = &gateway.StatusError{Status: 502, Body: "bad gateway"}
	err := svc.SuspendConsumer(ctx, tenantID, "c-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrConnectivity)
	assert.Empty(t, accounts.status, "local status must not change when the push is rejected")
	assert.Nil(t, accounts.enforcedAt)
}

func TestResumeDisablesTermination(t *testing.T) {
	svc, client, accounts, tenantID := setupEnforcement(t)
	ctx := context.Background()

	require.NoError(t, svc.ResumeConsumer(ctx, tenantID, "c-1"))

	require.Len(t, client.pushed, 1)
	assert.False(t, client.pushed[0].Enabled)
	assert.Equal(t, consumerdomain.StatusActive, accounts.status)
}

func TestEnforceRateLimitsValidatesAndPushes(t *testing.T) {
	svc, client, _, tenantID := setupEnforcement(t)
	ctx := context.Background()

	err := svc.EnforceRateLimits(ctx, tenantID, "standard", "grp-1", gateway.RateLimits{})
	assert.ErrorIs(t, err, enforcementdomain.ErrInvalidLimits)

	require.NoError(t, svc.EnforceRateLimits(ctx, tenantID, "standard", "grp-1", gateway.RateLimits{Minute: 60}))
	require.Len(t, client.pushed, 1)
	cfg := client.pushed[0]
	assert.Equal(t, "rate-limiting", cfg.Name)
	assert.Equal(t, "grp-1", cfg.ConsumerGroup)
	require.NotNil(t, cfg.RateLimits)
	assert.Equal(t, 60, cfg.RateLimits.Minute)
}

func TestEnforceRateLimitsStampsMatchingAccount(t *testing.T) {
	svc, _, accounts, tenantID := setupEnforcement(t)
	ctx := context.Background()

	require.NoError(t, svc.EnforceRateLimits(ctx, tenantID, "standard", "c-1", gateway.RateLimits{Minute: 60}))
	assert.NotNil(t, accounts.enforcedAt)

	// A group with no matching account is pushed without a stamp.
	accounts.account = nil
	accounts.enforcedAt = nil
	require.NoError(t, svc.EnforceRateLimits(ctx, tenantID, "standard", "whole-org", gateway.RateLimits{Minute: 60}))
	assert.Nil(t, accounts.enforcedAt)
}

func TestSuspendUnknownConsumer(t *testing.T) {
	svc, _, accounts, tenantID := setupEnforcement(t)
	accounts.account = nil

	err := svc.SuspendConsumer(context.Background(), tenantID, "ghost")
	assert.ErrorIs(t, err, consumerdomain.ErrConsumerNotFound)

	err = svc.SuspendConsumer(context.Background(), tenantID, "  ")
	assert.ErrorIs(t, err, enforcementdomain.ErrInvalidConsumer)
}
