package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/gatemeter/internal/cache"
	catalogdomain "github.com/smallbiznis/gatemeter/internal/catalog/domain"
	"github.com/smallbiznis/gatemeter/internal/config"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	obsmetrics "github.com/smallbiznis/gatemeter/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
	"github.com/smallbiznis/gatemeter/pkg/db"
	"github.com/smallbiznis/gatemeter/pkg/db/option"
	"github.com/smallbiznis/gatemeter/pkg/db/pagination"
	"github.com/smallbiznis/gatemeter/pkg/repository"
)

const resolveBatchSize = 500

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Config        config.Config
	Catalog       catalogdomain.Service
	Consumers     consumerdomain.Service
	ResolverCache cache.UsageResolverCache
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	maxAttempts   int
	catalog       catalogdomain.Service
	consumers     consumerdomain.Service
	resolverCache cache.UsageResolverCache
	usagerepo     repository.Repository[usagedomain.UsageEvent]
	metrics       *obsmetrics.Metrics

	// asyncResolve is swapped out in tests to run inline.
	asyncResolve func(tenantID snowflake.ID, ids []snowflake.ID)
}

func NewService(p ServiceParam) usagedomain.Service {
	maxAttempts := p.Config.Billing.ResolveMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	s := &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:         p.GenID,
		maxAttempts:   maxAttempts,
		catalog:       p.Catalog,
		consumers:     p.Consumers,
		resolverCache: p.ResolverCache,
		usagerepo:     repository.ProvideStore[usagedomain.UsageEvent](p.DB),
		metrics:       p.Metrics,
	}
	s.asyncResolve = func(tenantID snowflake.ID, ids []snowflake.ID) {
		go s.resolveByIDs(context.Background(), tenantID, ids)
	}
	return s
}

func (s *Service) Ingest(ctx context.Context, tenantID snowflake.ID, raw []byte) (*usagedomain.IngestResult, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}

	events, err := splitEvents(raw)
	if err != nil {
		return nil, errors.Join(usagedomain.ErrMalformedPayload, err)
	}

	result := &usagedomain.IngestResult{}
	accepted := make([]snowflake.ID, 0, len(events))

	for _, rawEvent := range events {
		var entry logEntry
		if err := json.Unmarshal(rawEvent, &entry); err != nil {
			result.Dropped++
			s.log.Debug("usage event dropped",
				zap.String("tenant_id", tenantID.String()),
				zap.String("reason", "unparseable_event"),
			)
			s.recordDrop(ctx, tenantID, "unparseable_event")
			continue
		}

		if reason := dropReason(entry); reason != "" {
			result.Dropped++
			s.log.Debug("usage event dropped",
				zap.String("tenant_id", tenantID.String()),
				zap.String("reason", reason),
			)
			s.recordDrop(ctx, tenantID, reason)
			continue
		}

		record := s.buildRecord(tenantID, entry)

		// Pre-check is an optimization; the unique constraint below is
		// the authoritative guard. Storage errors fail only this event:
		// siblings keep processing and the caller's whole-batch retry
		// dedups anything that did land.
		existing, err := s.findByCorrelation(ctx, tenantID, record.CorrelationID)
		if err != nil {
			result.Failed++
			s.log.Warn("usage dedup check failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("correlation_id", record.CorrelationID),
				zap.Error(err),
			)
			continue
		}
		if existing != nil {
			result.Duplicates++
			continue
		}

		inserted, err := s.insertUsageEvent(ctx, record)
		if err != nil {
			result.Failed++
			s.log.Warn("usage insert failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("correlation_id", record.CorrelationID),
				zap.Error(err),
			)
			continue
		}
		if !inserted {
			result.Duplicates++
			continue
		}

		result.Accepted++
		accepted = append(accepted, record.ID)
		if s.metrics != nil {
			s.metrics.RecordUsageIngest(ctx, tenantID.String())
		}
	}

	// Mapping resolution must not block the ingestion caller.
	if len(accepted) > 0 {
		s.asyncResolve(tenantID, accepted)
	}

	return result, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantID))
	if err != nil || tenantID == 0 {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidTenant
	}

	filter := &usagedomain.UsageEvent{
		TenantID:         tenantID,
		RemoteConsumerID: strings.TrimSpace(req.ConsumerID),
	}
	if resolution := strings.ToUpper(strings.TrimSpace(req.Resolution)); resolution != "" {
		filter.Resolution = usagedomain.ResolutionStatus(resolution)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.usagerepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}
	return buildUsageListResponse(items, pageSize)
}

func (s *Service) ResolvePending(ctx context.Context, tenantID snowflake.ID) (*usagedomain.ResolveOutcome, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}

	var pending []*usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND resolution = ?", tenantID, usagedomain.ResolutionPending).
		Order("created_at asc").
		Limit(resolveBatchSize).
		Find(&pending).Error
	if err != nil {
		return nil, err
	}

	outcome := &usagedomain.ResolveOutcome{}
	for _, event := range pending {
		status, err := s.resolveOne(ctx, tenantID, event)
		if err != nil {
			s.log.Warn("usage resolution failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("correlation_id", event.CorrelationID),
				zap.Error(err),
			)
			outcome.Pending++
			continue
		}
		switch status {
		case usagedomain.ResolutionResolved:
			outcome.Resolved++
		case usagedomain.ResolutionUnresolvable:
			outcome.Unresolvable++
		default:
			outcome.Pending++
		}
	}
	return outcome, nil
}

func (s *Service) buildRecord(tenantID snowflake.ID, entry logEntry) *usagedomain.UsageEvent {
	now := time.Now().UTC()
	startedAt := now
	if entry.StartedAt > 0 {
		startedAt = time.UnixMilli(entry.StartedAt).UTC()
	}

	return &usagedomain.UsageEvent{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		CorrelationID:    correlationID(entry),
		RemoteConsumerID: strings.TrimSpace(entry.Consumer.ID),
		RemoteServiceID:  strings.TrimSpace(entry.Service.ID),
		RemoteRouteID:    strings.TrimSpace(entry.Route.ID),
		Method:           strings.ToUpper(strings.TrimSpace(entry.Request.Method)),
		Path:             strings.TrimSpace(entry.Request.Path),
		StatusCode:       entry.Response.Status,
		LatencyMs:        entry.Latencies.Request,
		StartedAt:        startedAt,
		Resolution:       usagedomain.ResolutionPending,
		Metadata: datatypes.JSONMap{
			"service_name":  entry.Service.Name,
			"route_name":    entry.Route.Name,
			"consumer_name": entry.Consumer.Username,
			"request_size":  entry.Request.Size,
			"response_size": entry.Response.Size,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// resolveOne maps one event's remote refs and persists the outcome.
// A missing mapping leaves the event PENDING until the attempt budget
// runs out.
func (s *Service) resolveOne(ctx context.Context, tenantID snowflake.ID, event *usagedomain.UsageEvent) (usagedomain.ResolutionStatus, error) {
	updates := map[string]any{
		"resolve_attempts": event.ResolveAttempts + 1,
		"updated_at":       time.Now().UTC(),
	}

	complete := true

	if event.RemoteRouteID != "" {
		row, err := s.resolveEntity(ctx, tenantID, catalogdomain.KindRoute, event.RemoteRouteID)
		if err != nil {
			return event.Resolution, err
		}
		if row == nil {
			complete = false
		} else {
			updates["route_entity_id"] = row.ID
			if event.RemoteServiceID == "" && row.ParentRemoteID != "" {
				event.RemoteServiceID = row.ParentRemoteID
			}
		}
	}

	if complete && event.RemoteServiceID != "" {
		row, err := s.resolveEntity(ctx, tenantID, catalogdomain.KindService, event.RemoteServiceID)
		if err != nil {
			return event.Resolution, err
		}
		if row == nil {
			complete = false
		} else {
			updates["service_entity_id"] = row.ID
		}
	}

	if complete && event.RemoteConsumerID != "" {
		account, err := s.resolveConsumer(ctx, tenantID, event.RemoteConsumerID)
		if err != nil {
			return event.Resolution, err
		}
		if account == nil {
			complete = false
		} else {
			updates["consumer_account_id"] = account.ID
		}
	}

	status := usagedomain.ResolutionPending
	if complete {
		status = usagedomain.ResolutionResolved
	} else if event.ResolveAttempts+1 >= s.maxAttempts {
		status = usagedomain.ResolutionUnresolvable
	}
	updates["resolution"] = status

	if err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("id = ?", event.ID).
		Updates(updates).Error; err != nil {
		return event.Resolution, err
	}
	return status, nil
}

func (s *Service) resolveByIDs(ctx context.Context, tenantID snowflake.ID, ids []snowflake.ID) {
	for _, id := range ids {
		event, err := s.usagerepo.FindOne(ctx, &usagedomain.UsageEvent{ID: id})
		if err != nil || event == nil {
			continue
		}
		if event.Resolution != usagedomain.ResolutionPending {
			continue
		}
		if _, err := s.resolveOne(ctx, tenantID, event); err != nil {
			s.log.Debug("async usage resolution failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("correlation_id", event.CorrelationID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) resolveEntity(ctx context.Context, tenantID snowflake.ID, kind catalogdomain.EntityKind, remoteID string) (*catalogdomain.CatalogEntityMap, error) {
	if s.resolverCache != nil {
		if cached, ok := s.resolverCache.GetEntity(tenantID.String(), kind, remoteID); ok {
			return cached, nil
		}
	}
	row, err := s.catalog.Resolve(ctx, tenantID, kind, remoteID)
	if err != nil {
		return nil, err
	}
	if row != nil && s.resolverCache != nil {
		s.resolverCache.SetEntity(tenantID.String(), row)
	}
	return row, nil
}

func (s *Service) resolveConsumer(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) (*consumerdomain.ConsumerAccount, error) {
	if s.resolverCache != nil {
		if cached, ok := s.resolverCache.GetConsumer(tenantID.String(), remoteConsumerID); ok {
			return cached, nil
		}
	}
	account, err := s.consumers.GetByRemoteID(ctx, tenantID, remoteConsumerID)
	if err != nil {
		if errors.Is(err, consumerdomain.ErrConsumerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if s.resolverCache != nil {
		s.resolverCache.SetConsumer(tenantID.String(), account)
	}
	return account, nil
}

func (s *Service) insertUsageEvent(ctx context.Context, record *usagedomain.UsageEvent) (bool, error) {
	if strings.EqualFold(s.db.Dialector.Name(), "sqlite") {
		return s.insertUsageEventSQLite(ctx, record)
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "correlation_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		// Dialects that map the conflict clause imperfectly surface the
		// unique violation as a driver error instead of a no-op.
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// insertUsageEventSQLite mirrors the conflict clause for the sqlite
// dialect used in tests, where gorm's OnConflict handling differs.
func (s *Service) insertUsageEventSQLite(ctx context.Context, record *usagedomain.UsageEvent) (bool, error) {
	query := `INSERT INTO usage_events (
		id, tenant_id, correlation_id, remote_consumer_id, remote_service_id,
		remote_route_id, method, path, status_code, latency_ms, started_at,
		resolution, resolve_attempts, billed, cost, metadata, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, correlation_id) DO NOTHING`
	result := s.db.WithContext(ctx).Exec(
		query,
		record.ID,
		record.TenantID,
		record.CorrelationID,
		record.RemoteConsumerID,
		record.RemoteServiceID,
		record.RemoteRouteID,
		record.Method,
		record.Path,
		record.StatusCode,
		record.LatencyMs,
		record.StartedAt,
		record.Resolution,
		record.ResolveAttempts,
		record.Billed,
		record.Cost,
		record.Metadata,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) findByCorrelation(ctx context.Context, tenantID snowflake.ID, correlationID string) (*usagedomain.UsageEvent, error) {
	var record usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND correlation_id = ?", tenantID, correlationID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) recordDrop(ctx context.Context, tenantID snowflake.ID, reason string) {
	if s.metrics != nil {
		s.metrics.RecordUsageDropped(ctx, tenantID.String(), reason)
	}
}

func buildUsageListResponse(items []*usagedomain.UsageEvent, pageSize int32) (usagedomain.ListUsageResponse, error) {
	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *usagedomain.UsageEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]usagedomain.UsageEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := usagedomain.ListUsageResponse{
		UsageEvents: records,
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
