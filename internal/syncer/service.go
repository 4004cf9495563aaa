package syncer

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	catalogdomain "github.com/smallbiznis/gatemeter/internal/catalog/domain"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
)

type ServiceParam struct {
	fx.In

	Log         *zap.Logger
	Locks       *TenantLocks
	Catalog     catalogdomain.Service
	Connections connectiondomain.Service
}

// Service drives catalog refresh for one tenant or for every connected
// tenant, holding the tenant lock for the whole preview+apply cycle.
type Service struct {
	log         *zap.Logger
	locks       *TenantLocks
	catalog     catalogdomain.Service
	connections connectiondomain.Service
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:         p.Log.Named("syncer.service"),
		locks:       p.Locks,
		catalog:     p.Catalog,
		connections: p.Connections,
	}
}

// Preview computes the tenant's diff under the tenant lock so it never
// races an in-flight apply.
func (s *Service) Preview(ctx context.Context, tenantID snowflake.ID) (*catalogdomain.Diff, error) {
	var diff *catalogdomain.Diff
	err := s.locks.WithLock(tenantID, func() error {
		var err error
		diff, err = s.catalog.Preview(ctx, tenantID)
		return err
	})
	return diff, err
}

// Apply reconciles the tenant's catalog under the tenant lock.
func (s *Service) Apply(ctx context.Context, tenantID snowflake.ID) (*catalogdomain.ImportResult, error) {
	var result *catalogdomain.ImportResult
	err := s.locks.WithLock(tenantID, func() error {
		var err error
		result, err = s.catalog.Apply(ctx, tenantID)
		return err
	})
	return result, err
}

// Refresh runs one non-blocking sync pass for a tenant. It previews
// first and applies only when the diff is non-empty, so an unchanged
// remote catalog costs no writes. Returns false when the tenant lock
// was busy and the pass was skipped.
func (s *Service) Refresh(ctx context.Context, tenantID snowflake.ID) (bool, error) {
	return s.locks.TryWithLock(tenantID, func() error {
		diff, err := s.catalog.Preview(ctx, tenantID)
		if err != nil {
			return err
		}
		if diff.Empty() {
			s.log.Debug("catalog unchanged", zap.String("tenant_id", tenantID.String()))
			return nil
		}

		result, err := s.catalog.Apply(ctx, tenantID)
		if err != nil {
			return err
		}
		s.log.Info("catalog refreshed",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("imported", result.Imported),
			zap.Int("updated", result.Updated),
			zap.Int("failed", result.Failed),
		)
		return nil
	})
}

// RefreshAll sweeps every connected tenant. One tenant failing (bad
// credential, unreachable control plane) never aborts the others.
func (s *Service) RefreshAll(ctx context.Context) error {
	conns, err := s.connections.ListConnected(ctx)
	if err != nil {
		return err
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ran, err := s.Refresh(ctx, conn.TenantID)
		if err != nil {
			s.log.Warn("tenant refresh failed",
				zap.String("tenant_id", conn.TenantID.String()),
				zap.Error(err),
			)
			continue
		}
		if !ran {
			s.log.Debug("tenant refresh skipped, sync in flight",
				zap.String("tenant_id", conn.TenantID.String()),
			)
		}
	}
	return nil
}
