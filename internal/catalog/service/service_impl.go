package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/smallbiznis/gatemeter/internal/catalog/domain"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	obsmetrics "github.com/smallbiznis/gatemeter/internal/observability/metrics"
	"github.com/smallbiznis/gatemeter/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Connections connectiondomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	connections connectiondomain.Service
	repo        repository.Repository[catalogdomain.CatalogEntityMap]
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) catalogdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("catalog.service"),

		genID:       p.GenID,
		connections: p.Connections,
		repo:        repository.ProvideStore[catalogdomain.CatalogEntityMap](p.DB),
		metrics:     p.Metrics,
	}
}

// remoteEntity is the reconciler's normalized view of a fetched service
// or route.
type remoteEntity struct {
	RemoteID       string
	Kind           catalogdomain.EntityKind
	Name           string
	Host           string
	Protocol       string
	ParentRemoteID string
}

func (s *Service) Preview(ctx context.Context, tenantID snowflake.ID) (*catalogdomain.Diff, error) {
	if tenantID == 0 {
		return nil, catalogdomain.ErrInvalidTenant
	}

	remote, conn, err := s.fetchRemote(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	active, err := s.loadSnapshot(ctx, tenantID, conn.ControlPlaneID, true)
	if err != nil {
		return nil, err
	}

	diff := computeDiff(remote, active)
	return &diff, nil
}

func (s *Service) Apply(ctx context.Context, tenantID snowflake.ID) (*catalogdomain.ImportResult, error) {
	if tenantID == 0 {
		return nil, catalogdomain.ErrInvalidTenant
	}

	// A fetch failure aborts the whole cycle before any write; partial
	// remote state must never be applied.
	remote, conn, err := s.fetchRemote(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	all, err := s.loadSnapshot(ctx, tenantID, conn.ControlPlaneID, false)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &catalogdomain.ImportResult{}
	seen := make(map[string]bool, len(remote))

	for _, entity := range remote {
		key := snapshotKey(entity.Kind, entity.RemoteID)
		seen[key] = true

		existing, ok := all[key]
		if !ok {
			if err := s.insertEntity(ctx, tenantID, conn.ControlPlaneID, entity, now); err != nil {
				result.Failed++
				s.log.Warn("catalog entity import failed",
					zap.String("tenant_id", tenantID.String()),
					zap.String("remote_id", entity.RemoteID),
					zap.String("kind", string(entity.Kind)),
					zap.Error(err),
				)
				continue
			}
			result.Imported++
			continue
		}

		if !entityEqual(existing, entity) || existing.Status == catalogdomain.StatusDisabled {
			if err := s.updateEntity(ctx, existing.ID, entity, now); err != nil {
				result.Failed++
				s.log.Warn("catalog entity update failed",
					zap.String("tenant_id", tenantID.String()),
					zap.String("remote_id", entity.RemoteID),
					zap.Error(err),
				)
				continue
			}
			result.Updated++
			continue
		}

		// Unchanged: only refresh the observation timestamp.
		if err := s.touchEntity(ctx, existing.ID, now); err != nil {
			result.Failed++
		}
	}

	for key, existing := range all {
		if seen[key] || existing.Status != catalogdomain.StatusActive {
			continue
		}
		if err := s.disableEntity(ctx, existing.ID, now); err != nil {
			result.Failed++
			s.log.Warn("catalog entity disable failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("remote_id", existing.RemoteID),
				zap.Error(err),
			)
			continue
		}
		result.Updated++
	}

	if err := s.connections.MarkSynced(ctx, tenantID, now); err != nil {
		s.log.Warn("mark synced failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordCatalogSync(ctx, tenantID.String(), result.Imported, result.Updated, result.Failed)
	}

	return result, nil
}

func (s *Service) Resolve(ctx context.Context, tenantID snowflake.ID, kind catalogdomain.EntityKind, remoteID string) (*catalogdomain.CatalogEntityMap, error) {
	if remoteID == "" {
		return nil, nil
	}
	return s.repo.FindOne(ctx, &catalogdomain.CatalogEntityMap{
		TenantID: tenantID,
		Kind:     kind,
		RemoteID: remoteID,
	})
}

func (s *Service) fetchRemote(ctx context.Context, tenantID snowflake.ID) ([]remoteEntity, *connectiondomain.TenantConnection, error) {
	client, conn, err := s.connections.ClientFor(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	services, err := client.FetchServices(ctx)
	if err != nil {
		return nil, nil, errors.Join(catalogdomain.ErrFetchFailed, err)
	}
	routes, err := client.FetchRoutes(ctx)
	if err != nil {
		return nil, nil, errors.Join(catalogdomain.ErrFetchFailed, err)
	}

	out := make([]remoteEntity, 0, len(services)+len(routes))
	for _, svc := range services {
		out = append(out, remoteEntity{
			RemoteID: svc.ID,
			Kind:     catalogdomain.KindService,
			Name:     svc.Name,
			Host:     svc.Host,
			Protocol: svc.Protocol,
		})
	}
	for _, route := range routes {
		out = append(out, remoteEntity{
			RemoteID:       route.ID,
			Kind:           catalogdomain.KindRoute,
			Name:           route.Name,
			Host:           strings.Join(route.Hosts, ","),
			Protocol:       strings.Join(route.Protocols, ","),
			ParentRemoteID: route.ServiceID,
		})
	}
	return out, conn, nil
}

// loadSnapshot returns the tenant's rows keyed by kind+remoteID.
// activeOnly matches the preview contract; apply needs disabled rows too
// so a reappearing entity reactivates instead of colliding on insert.
func (s *Service) loadSnapshot(ctx context.Context, tenantID snowflake.ID, controlPlaneID string, activeOnly bool) (map[string]*catalogdomain.CatalogEntityMap, error) {
	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND control_plane_id = ?", tenantID, controlPlaneID)
	if activeOnly {
		query = query.Where("status = ?", catalogdomain.StatusActive)
	}

	var rows []*catalogdomain.CatalogEntityMap
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*catalogdomain.CatalogEntityMap, len(rows))
	for _, row := range rows {
		out[snapshotKey(row.Kind, row.RemoteID)] = row
	}
	return out, nil
}

func (s *Service) insertEntity(ctx context.Context, tenantID snowflake.ID, controlPlaneID string, entity remoteEntity, now time.Time) error {
	return s.repo.Create(ctx, &catalogdomain.CatalogEntityMap{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		ControlPlaneID: controlPlaneID,
		RemoteID:       entity.RemoteID,
		Kind:           entity.Kind,
		Name:           entity.Name,
		Host:           entity.Host,
		Protocol:       entity.Protocol,
		ParentRemoteID: entity.ParentRemoteID,
		Status:         catalogdomain.StatusActive,
		LastSeenAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *Service) updateEntity(ctx context.Context, id snowflake.ID, entity remoteEntity, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&catalogdomain.CatalogEntityMap{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":             entity.Name,
			"host":             entity.Host,
			"protocol":         entity.Protocol,
			"parent_remote_id": entity.ParentRemoteID,
			"status":           catalogdomain.StatusActive,
			"last_seen_at":     now,
			"updated_at":       now,
		}).Error
}

func (s *Service) touchEntity(ctx context.Context, id snowflake.ID, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&catalogdomain.CatalogEntityMap{}).
		Where("id = ?", id).
		Update("last_seen_at", now).Error
}

func (s *Service) disableEntity(ctx context.Context, id snowflake.ID, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&catalogdomain.CatalogEntityMap{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     catalogdomain.StatusDisabled,
			"updated_at": now,
		}).Error
}

func computeDiff(remote []remoteEntity, active map[string]*catalogdomain.CatalogEntityMap) catalogdomain.Diff {
	var diff catalogdomain.Diff
	seen := make(map[string]bool, len(remote))

	for _, entity := range remote {
		key := snapshotKey(entity.Kind, entity.RemoteID)
		seen[key] = true
		set := changeSetFor(&diff, entity.Kind)

		existing, ok := active[key]
		if !ok {
			set.Added = append(set.Added, catalogdomain.EntityRef{RemoteID: entity.RemoteID, Name: entity.Name})
			continue
		}
		if !entityEqual(existing, entity) {
			set.Changed = append(set.Changed, catalogdomain.EntityRef{RemoteID: entity.RemoteID, Name: entity.Name})
		}
	}

	for key, existing := range active {
		if seen[key] {
			continue
		}
		set := changeSetFor(&diff, existing.Kind)
		set.Removed = append(set.Removed, catalogdomain.EntityRef{RemoteID: existing.RemoteID, Name: existing.Name})
	}

	return diff
}

func changeSetFor(diff *catalogdomain.Diff, kind catalogdomain.EntityKind) *catalogdomain.ChangeSet {
	if kind == catalogdomain.KindRoute {
		return &diff.Routes
	}
	return &diff.Services
}

// entityEqual compares the denormalized snapshot fields. Exact
// inequality only; no fuzzy matching.
func entityEqual(existing *catalogdomain.CatalogEntityMap, entity remoteEntity) bool {
	return existing.Name == entity.Name &&
		existing.Host == entity.Host &&
		existing.Protocol == entity.Protocol &&
		existing.ParentRemoteID == entity.ParentRemoteID
}

func snapshotKey(kind catalogdomain.EntityKind, remoteID string) string {
	return string(kind) + ":" + remoteID
}
