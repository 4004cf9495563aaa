package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	enforcementdomain "github.com/smallbiznis/gatemeter/internal/enforcement/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
	obsmetrics "github.com/smallbiznis/gatemeter/internal/observability/metrics"
)

const (
	rateLimitPlugin   = "rate-limiting"
	terminationPlugin = "request-termination"

	suspendedStatusCode = 402
	suspendedMessage    = "account suspended: balance exhausted"
)

type ServiceParam struct {
	fx.In

	Log         *zap.Logger
	Connections connectiondomain.Service
	Consumers   consumerdomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	connections connectiondomain.Service
	consumers   consumerdomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) enforcementdomain.Service {
	return &Service{
		log:         p.Log.Named("enforcement.service"),
		connections: p.Connections,
		consumers:   p.Consumers,
		metrics:     p.Metrics,
	}
}

func (s *Service) EnforceRateLimits(ctx context.Context, tenantID snowflake.ID, planCode, groupID string, limits gateway.RateLimits) error {
	if limits.Minute <= 0 && limits.Hour <= 0 && limits.Day <= 0 {
		return enforcementdomain.ErrInvalidLimits
	}

	client, _, err := s.connections.ClientFor(ctx, tenantID)
	if err != nil {
		return err
	}

	if err := client.PushPluginConfig(ctx, gateway.PluginConfig{
		Name:          rateLimitPlugin,
		ConsumerGroup: strings.TrimSpace(groupID),
		Enabled:       true,
		RateLimits:    &limits,
	}); err != nil {
		return err
	}
	s.stampEnforced(ctx, tenantID, groupID)

	s.log.Info("rate limits enforced",
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan_code", planCode),
		zap.String("group_id", groupID),
	)
	return nil
}

// stampEnforced records the push time on the matching account. Group
// IDs that do not map to a single consumer are skipped.
func (s *Service) stampEnforced(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) {
	account, err := s.consumers.GetByRemoteID(ctx, tenantID, remoteConsumerID)
	if err != nil {
		if !errors.Is(err, consumerdomain.ErrConsumerNotFound) {
			s.log.Warn("enforcement stamp lookup failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("remote_consumer_id", remoteConsumerID),
				zap.Error(err),
			)
		}
		return
	}
	if err := s.consumers.MarkEnforced(ctx, account.ID, time.Now().UTC()); err != nil {
		s.log.Warn("enforcement stamp failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
	}
}

// SuspendConsumer pushes a request-termination plugin to the gateway,
// then flips the local account. A rejected push leaves the account
// untouched.
func (s *Service) SuspendConsumer(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) error {
	remoteConsumerID = strings.TrimSpace(remoteConsumerID)
	if remoteConsumerID == "" {
		return enforcementdomain.ErrInvalidConsumer
	}

	account, err := s.consumers.GetByRemoteID(ctx, tenantID, remoteConsumerID)
	if err != nil {
		return err
	}

	client, _, err := s.connections.ClientFor(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := client.PushPluginConfig(ctx, gateway.PluginConfig{
		Name:       terminationPlugin,
		ConsumerID: remoteConsumerID,
		Enabled:    true,
		Termination: &gateway.Termination{
			StatusCode: suspendedStatusCode,
			Message:    suspendedMessage,
		},
	}); err != nil {
		return err
	}

	if err := s.consumers.SetStatus(ctx, account.ID, consumerdomain.StatusSuspended); err != nil {
		return err
	}
	s.stampEnforced(ctx, tenantID, remoteConsumerID)
	if s.metrics != nil {
		s.metrics.RecordSuspension(ctx, tenantID.String())
	}
	s.log.Info("consumer suspended",
		zap.String("tenant_id", tenantID.String()),
		zap.String("remote_consumer_id", remoteConsumerID),
	)
	return nil
}

func (s *Service) ResumeConsumer(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) error {
	remoteConsumerID = strings.TrimSpace(remoteConsumerID)
	if remoteConsumerID == "" {
		return enforcementdomain.ErrInvalidConsumer
	}

	account, err := s.consumers.GetByRemoteID(ctx, tenantID, remoteConsumerID)
	if err != nil {
		return err
	}

	client, _, err := s.connections.ClientFor(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := client.PushPluginConfig(ctx, gateway.PluginConfig{
		Name:       terminationPlugin,
		ConsumerID: remoteConsumerID,
		Enabled:    false,
	}); err != nil {
		return err
	}

	if err := s.consumers.SetStatus(ctx, account.ID, consumerdomain.StatusActive); err != nil {
		return err
	}
	s.stampEnforced(ctx, tenantID, remoteConsumerID)
	s.log.Info("consumer resumed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("remote_consumer_id", remoteConsumerID),
	)
	return nil
}
