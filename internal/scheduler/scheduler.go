// Package scheduler drives the periodic catalog refresh and billing
// sweep loops.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/gatemeter/internal/billing/domain"
	"github.com/smallbiznis/gatemeter/internal/clock"
	"github.com/smallbiznis/gatemeter/internal/config"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	obsmetrics "github.com/smallbiznis/gatemeter/internal/observability/metrics"
	"github.com/smallbiznis/gatemeter/internal/ratelimit"
	"github.com/smallbiznis/gatemeter/internal/syncer"
)

var ErrInvalidConfig = errors.New("scheduler requires sync, billing and connection services")

const jobTimeout = 10 * time.Minute

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	SyncSvc     *syncer.Service
	BillingSvc  billingdomain.Service
	Connections connectiondomain.Service

	Limiter *ratelimit.WebhookLimiter `optional:"true"`
	Metrics *obsmetrics.Metrics       `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	clock       clock.Clock
	syncSvc     *syncer.Service
	billingSvc  billingdomain.Service
	connections connectiondomain.Service
	limiter     *ratelimit.WebhookLimiter
	metrics     *obsmetrics.Metrics

	refreshInterval time.Duration
	sweepInterval   time.Duration
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.SyncSvc == nil || p.BillingSvc == nil || p.Connections == nil {
		return nil, ErrInvalidConfig
	}

	refreshInterval := p.Config.Sync.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}
	sweepInterval := p.Config.Billing.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		clock:           p.Clock,
		syncSvc:         p.SyncSvc,
		billingSvc:      p.BillingSvc,
		connections:     p.Connections,
		limiter:         p.Limiter,
		metrics:         p.Metrics,
		refreshInterval: refreshInterval,
		sweepInterval:   sweepInterval,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	if s.metrics != nil {
		s.metrics.RecordJobRun(ctx, name, err == nil, elapsed)
	}
	if err != nil {
		s.log.Warn("job failed",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}
	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// CatalogRefreshJob runs one non-blocking refresh pass over every
// connected tenant.
func (s *Scheduler) CatalogRefreshJob(ctx context.Context) error {
	return s.runJob(ctx, "catalog_refresh", s.syncSvc.RefreshAll)
}

// BillingSweepJob bills every connected tenant once. The redis sweep
// lock, when configured, keeps concurrent instances from double
// processing a tenant; without redis a single instance is assumed.
func (s *Scheduler) BillingSweepJob(ctx context.Context) error {
	return s.runJob(ctx, "billing_sweep", func(ctx context.Context) error {
		conns, err := s.connections.ListConnected(ctx)
		if err != nil {
			return err
		}

		var jobErr error
		for _, conn := range conns {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.sweepTenant(ctx, conn); err != nil {
				jobErr = errors.Join(jobErr, err)
			}
		}
		return jobErr
	})
}

func (s *Scheduler) sweepTenant(ctx context.Context, conn *connectiondomain.TenantConnection) error {
	tenantID := conn.TenantID.String()

	token, acquired, err := s.limiter.TryLockSweep(ctx, tenantID)
	if err != nil {
		s.log.Warn("sweep lock failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	}
	if !acquired {
		s.log.Debug("sweep already running elsewhere", zap.String("tenant_id", tenantID))
		return nil
	}
	defer func() {
		if err := s.limiter.ReleaseSweep(ctx, tenantID, token); err != nil {
			s.log.Warn("sweep unlock failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}()

	result, err := s.billingSvc.ProcessUnbilled(ctx, conn.TenantID)
	if err != nil {
		s.log.Warn("tenant sweep failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return err
	}
	if result.Billed > 0 || result.Failed > 0 || result.Suspended > 0 {
		s.log.Info("tenant sweep finished",
			zap.String("tenant_id", tenantID),
			zap.Int("billed", result.Billed),
			zap.Int("failed", result.Failed),
			zap.Int("suspended", result.Suspended),
			zap.Float64("total_cost", result.TotalCost),
		)
	}
	return nil
}

// RunForever drives both loops until the context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	refreshTicker := s.clock.NewTicker(s.refreshInterval)
	defer refreshTicker.Stop()
	sweepTicker := s.clock.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.Chan():
			_ = s.CatalogRefreshJob(ctx)
		case <-sweepTicker.Chan():
			_ = s.BillingSweepJob(ctx)
		}
	}
}
