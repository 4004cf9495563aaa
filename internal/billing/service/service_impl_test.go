package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/gatemeter/internal/billing/domain"
	"github.com/smallbiznis/gatemeter/internal/config"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	consumerservice "github.com/smallbiznis/gatemeter/internal/consumer/service"
	"github.com/smallbiznis/gatemeter/internal/plan"
	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
)

type noopUsage struct{}

func (noopUsage) Ingest(ctx context.Context, tenantID snowflake.ID, raw []byte) (*usagedomain.IngestResult, error) {
	return &usagedomain.IngestResult{}, nil
}
func (noopUsage) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	return usagedomain.ListUsageResponse{}, nil
}
func (noopUsage) ResolvePending(ctx context.Context, tenantID snowflake.ID) (*usagedomain.ResolveOutcome, error) {
	return &usagedomain.ResolveOutcome{}, nil
}

func testPlanHolder(t *testing.T) *plan.Holder {
	t.Helper()
	file := filepath.Join(t.TempDir(), "plans.yml")
	content := []byte(`plans:
  - code: free
    name: Free
    model: tiered
    tiers:
      - from: 0
        to: 1000
        unitPrice: 0
      - from: 500
        unitPrice: 0.01
    monthlyQuota: 1000
  - code: paid
    name: Paid
    model: tiered
    prepaid: true
    tiers:
      - from: 0
        unitPrice: 7
  - code: floor
    name: Floor
    model: flat
    flatPrice: 0.5
    minimumFee: 2
    prepaid: true
  - code: boundary
    name: Boundary
    model: tiered
    tiers:
      - from: 0
        to: 1
        unitPrice: 0
      - from: 1
        unitPrice: 5
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))

	holder, err := plan.NewHolder(file, zap.NewNop())
	require.NoError(t, err)
	return holder
}

type billingFixture struct {
	db        *gorm.DB
	svc       billingdomain.Service
	consumers consumerdomain.Service
	node      *snowflake.Node
	tenantID  snowflake.ID
}

func setupBilling(t *testing.T) *billingFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&consumerdomain.ConsumerAccount{}, &usagedomain.UsageEvent{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM consumer_accounts")
		db.Exec("DELETE FROM usage_events")
	})

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	holder := testPlanHolder(t)

	consumers := consumerservice.NewService(consumerservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Plans: holder,
	})

	cfg := config.Config{}
	cfg.Billing.SweepWindow = 24 * time.Hour

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		Config:    cfg,
		Plans:     holder,
		Consumers: consumers,
		Usage:     noopUsage{},
	})

	return &billingFixture{
		db:        db,
		svc:       svc,
		consumers: consumers,
		node:      node,
		tenantID:  node.Generate(),
	}
}

func (f *billingFixture) seedAccount(t *testing.T, planCode string, balance float64) *consumerdomain.ConsumerAccount {
	t.Helper()
	account := &consumerdomain.ConsumerAccount{
		ID:               f.node.Generate(),
		TenantID:         f.tenantID,
		RemoteConsumerID: "c-" + f.node.Generate().String(),
		Username:         "tester",
		PlanCode:         planCode,
		Balance:          balance,
		Status:           consumerdomain.StatusActive,
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *billingFixture) seedEvent(t *testing.T, accountID snowflake.ID, startedAt time.Time) *usagedomain.UsageEvent {
	t.Helper()
	event := &usagedomain.UsageEvent{
		ID:                f.node.Generate(),
		TenantID:          f.tenantID,
		CorrelationID:     f.node.Generate().String(),
		Method:            "GET",
		Path:              "/v1/orders",
		StatusCode:        200,
		StartedAt:         startedAt,
		ConsumerAccountID: &accountID,
		Resolution:        usagedomain.ResolutionResolved,
	}
	require.NoError(t, f.db.Create(event).Error)
	return event
}

func TestCalculateCostTierTieBreak(t *testing.T) {
	p := plan.PricingPlan{
		Code:  "overlap",
		Model: plan.ModelTiered,
		Tiers: []plan.Tier{
			{From: 0, To: toPtr(1000), UnitPrice: 0},
			{From: 500, To: nil, UnitPrice: 0.01},
		},
	}

	// Position 700 matches both tiers; the first declared tier charges 0.
	cost, err := CalculateCost(p, 700, 1)
	require.NoError(t, err)
	assert.Zero(t, cost)

	cost, err = CalculateCost(p, 1500, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, cost, 1e-9)
}

func TestCalculateCostMinimumFeeFloor(t *testing.T) {
	p := plan.PricingPlan{
		Code: "floor", Model: plan.ModelFlat,
		FlatPrice: 0.5, MinimumFee: 2,
	}
	cost, err := CalculateCost(p, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2, cost, 1e-9)
}

func TestCalculateCostNoMatchingTier(t *testing.T) {
	p := plan.PricingPlan{
		Code: "gap", Model: plan.ModelTiered,
		Tiers: []plan.Tier{{From: 100, To: toPtr(200), UnitPrice: 1}},
	}
	_, err := CalculateCost(p, 50, 1)
	assert.ErrorIs(t, err, billingdomain.ErrNoMatchingTier)
}

func TestProcessUnbilledDebitsAndSuspends(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "paid", 5)
	f.seedEvent(t, account.ID, time.Now().UTC())

	res, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Billed)
	assert.Equal(t, 1, res.Suspended)
	assert.InDelta(t, 7, res.TotalCost, 1e-9)

	// Debiting 7 against a balance of 5 lands at -2 and suspends.
	updated, err := f.consumers.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.InDelta(t, -2, updated.Balance, 1e-9)
	assert.Equal(t, consumerdomain.StatusSuspended, updated.Status)

	var event usagedomain.UsageEvent
	require.NoError(t, f.db.Where("consumer_account_id = ?", account.ID).First(&event).Error)
	assert.True(t, event.Billed)
	assert.InDelta(t, 7, event.Cost, 1e-9)
	require.NotNil(t, event.BilledAt)
}

func TestProcessUnbilledIsIdempotent(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "free", 0)
	f.seedEvent(t, account.ID, time.Now().UTC())

	res, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Billed)

	res, err = f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Zero(t, res.Billed)
	assert.Zero(t, res.TotalCost)
}

func TestProcessUnbilledSkipsEventsOutsideWindow(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "free", 0)
	f.seedEvent(t, account.ID, time.Now().UTC().Add(-48*time.Hour))

	res, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Zero(t, res.Billed)
}

func TestProcessUnbilledFirstEventPricesInFirstTier(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "boundary", 0)
	f.seedEvent(t, account.ID, time.Now().UTC())

	// The account's first cumulative unit sits at position 1, inside the
	// free [0,1] tier; the batch being billed must not inflate its own
	// position.
	res, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Billed)
	assert.Zero(t, res.TotalCost)
}

func TestProcessUnbilledTierPositionCountsBilledHistory(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "boundary", 0)
	f.seedEvent(t, account.ID, time.Now().UTC().Add(-time.Hour))

	res, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Billed)
	require.Zero(t, res.TotalCost)

	// The second unit crosses the tier boundary into the paid tier.
	f.seedEvent(t, account.ID, time.Now().UTC())
	res, err = f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Billed)
	assert.InDelta(t, 5, res.TotalCost, 1e-9)
}

func TestProcessUnbilledBatchPositionsAreSequential(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "boundary", 0)
	now := time.Now().UTC()
	f.seedEvent(t, account.ID, now.Add(-2*time.Minute))
	f.seedEvent(t, account.ID, now.Add(-time.Minute))
	f.seedEvent(t, account.ID, now)

	// Positions 1, 2, 3 price at 0, 5, 5.
	res, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Billed)
	assert.InDelta(t, 10, res.TotalCost, 1e-9)
}

func TestTopUpResumesSuspendedAccount(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "paid", 5)
	f.seedEvent(t, account.ID, time.Now().UTC())

	_, err := f.svc.ProcessUnbilled(ctx, f.tenantID)
	require.NoError(t, err)

	// Top up 10: -2 + 10 = 8 and the account resumes.
	updated, err := f.svc.TopUp(ctx, account.ID, 10)
	require.NoError(t, err)
	assert.InDelta(t, 8, updated.Balance, 1e-9)
	assert.Equal(t, consumerdomain.StatusActive, updated.Status)

	_, err = f.svc.TopUp(ctx, account.ID, 0)
	assert.ErrorIs(t, err, billingdomain.ErrInvalidAmount)
	_, err = f.svc.TopUp(ctx, account.ID, -3)
	assert.ErrorIs(t, err, billingdomain.ErrInvalidAmount)
}

func TestIsApproachingQuota(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	account := f.seedAccount(t, "free", 0)
	for i := 0; i < 800; i++ {
		f.seedEvent(t, account.ID, time.Now().UTC())
	}

	// 800 of 1000 with an 80% threshold.
	near, err := f.svc.IsApproachingQuota(ctx, account.ID, 80)
	require.NoError(t, err)
	assert.True(t, near)

	near, err = f.svc.IsApproachingQuota(ctx, account.ID, 90)
	require.NoError(t, err)
	assert.False(t, near)

	// Unmetered plans never approach quota.
	paid := f.seedAccount(t, "paid", 100)
	near, err = f.svc.IsApproachingQuota(ctx, paid.ID, 50)
	require.NoError(t, err)
	assert.False(t, near)
}

func toPtr(v float64) *float64 { return &v }
