package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
	"github.com/smallbiznis/gatemeter/internal/vault"
	"github.com/smallbiznis/gatemeter/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Vault   *vault.Vault
	Gateway gateway.Factory
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	vault   *vault.Vault
	gateway gateway.Factory
	repo    repository.Repository[connectiondomain.TenantConnection]
}

func NewService(p ServiceParam) connectiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("connection.service"),

		genID:   p.GenID,
		vault:   p.Vault,
		gateway: p.Gateway,
		repo:    repository.ProvideStore[connectiondomain.TenantConnection](p.DB),
	}
}

func (s *Service) Connect(ctx context.Context, req connectiondomain.ConnectRequest) (*connectiondomain.TenantConnection, error) {
	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantID))
	if err != nil || tenantID == 0 {
		return nil, connectiondomain.ErrInvalidTenant
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return nil, connectiondomain.ErrInvalidEndpoint
	}

	token, err := s.vault.Encrypt(req.Credential)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conn, err := s.findByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		conn = &connectiondomain.TenantConnection{
			ID:        s.genID.Generate(),
			TenantID:  tenantID,
			CreatedAt: now,
		}
	}
	conn.Endpoint = endpoint
	conn.Credential = token
	conn.Environment = strings.TrimSpace(req.Environment)
	conn.ControlPlaneID = strings.TrimSpace(req.ControlPlaneID)
	conn.UpdatedAt = now

	client := s.gateway.Client(gateway.ConnectionParams{
		Endpoint:       conn.Endpoint,
		Token:          req.Credential,
		ControlPlaneID: conn.ControlPlaneID,
	})
	if probeErr := client.TestConnection(ctx); probeErr != nil {
		conn.Status = connectiondomain.StatusFailed
		s.log.Warn("connection probe failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(probeErr),
		)
	} else {
		conn.Status = connectiondomain.StatusConnected
	}

	if err := s.db.WithContext(ctx).Save(conn).Error; err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Service) Test(ctx context.Context, tenantID snowflake.ID) error {
	client, conn, err := s.ClientFor(ctx, tenantID)
	if err != nil {
		return err
	}

	probeErr := client.TestConnection(ctx)
	status := connectiondomain.StatusConnected
	if probeErr != nil {
		status = connectiondomain.StatusFailed
	}
	if conn.Status != status {
		if err := s.db.WithContext(ctx).
			Model(&connectiondomain.TenantConnection{}).
			Where("id = ?", conn.ID).
			Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
	}
	return probeErr
}

func (s *Service) Disconnect(ctx context.Context, tenantID snowflake.ID) error {
	conn, err := s.findByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if conn == nil {
		return connectiondomain.ErrConnectionNotFound
	}
	return s.db.WithContext(ctx).
		Model(&connectiondomain.TenantConnection{}).
		Where("id = ?", conn.ID).
		Updates(map[string]any{
			"status":     connectiondomain.StatusDisconnected,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID) (*connectiondomain.TenantConnection, error) {
	conn, err := s.findByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, connectiondomain.ErrConnectionNotFound
	}
	return conn, nil
}

func (s *Service) ListConnected(ctx context.Context) ([]*connectiondomain.TenantConnection, error) {
	return s.repo.Find(ctx, &connectiondomain.TenantConnection{
		Status: connectiondomain.StatusConnected,
	})
}

func (s *Service) ClientFor(ctx context.Context, tenantID snowflake.ID) (gateway.Client, *connectiondomain.TenantConnection, error) {
	conn, err := s.findByTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil {
		return nil, nil, connectiondomain.ErrConnectionNotFound
	}
	if conn.Status == connectiondomain.StatusDisconnected {
		return nil, nil, connectiondomain.ErrNotConnected
	}

	// A credential that no longer decrypts is fatal for the operation;
	// syncing with a garbage token would only produce auth noise remotely.
	credential, err := s.vault.Decrypt(conn.Credential)
	if err != nil {
		return nil, nil, err
	}

	client := s.gateway.Client(gateway.ConnectionParams{
		Endpoint:       conn.Endpoint,
		Token:          credential,
		ControlPlaneID: conn.ControlPlaneID,
	})
	return client, conn, nil
}

func (s *Service) MarkSynced(ctx context.Context, tenantID snowflake.ID, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&connectiondomain.TenantConnection{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"last_synced_at": at,
			"status":         connectiondomain.StatusConnected,
			"updated_at":     at,
		}).Error
}

func (s *Service) findByTenant(ctx context.Context, tenantID snowflake.ID) (*connectiondomain.TenantConnection, error) {
	return s.repo.FindOne(ctx, &connectiondomain.TenantConnection{TenantID: tenantID})
}
