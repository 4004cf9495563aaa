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
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	"github.com/smallbiznis/gatemeter/internal/plan"
	"github.com/smallbiznis/gatemeter/pkg/repository"
)

// DefaultPlanCode is assigned to consumers imported without an explicit
// plan.
const DefaultPlanCode = "free"

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Plans       *plan.Holder
	Connections connectiondomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	plans       *plan.Holder
	connections connectiondomain.Service
	repo        repository.Repository[consumerdomain.ConsumerAccount]
}

func NewService(p ServiceParam) consumerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("consumer.service"),

		genID:       p.GenID,
		plans:       p.Plans,
		connections: p.Connections,
		repo:        repository.ProvideStore[consumerdomain.ConsumerAccount](p.DB),
	}
}

func (s *Service) SyncConsumers(ctx context.Context, tenantID snowflake.ID) (*consumerdomain.SyncResult, error) {
	client, _, err := s.connections.ClientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	remote, err := client.FetchConsumers(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &consumerdomain.SyncResult{}
	for _, rc := range remote {
		if strings.TrimSpace(rc.ID) == "" {
			continue
		}

		existing, err := s.repo.FindOne(ctx, &consumerdomain.ConsumerAccount{
			TenantID:         tenantID,
			RemoteConsumerID: rc.ID,
		})
		if err != nil {
			return nil, err
		}

		if existing == nil {
			account := &consumerdomain.ConsumerAccount{
				ID:               s.genID.Generate(),
				TenantID:         tenantID,
				RemoteConsumerID: rc.ID,
				Username:         rc.Username,
				CustomID:         rc.CustomID,
				PlanCode:         DefaultPlanCode,
				Currency:         consumerdomain.DefaultCurrency,
				Status:           consumerdomain.StatusActive,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.repo.Create(ctx, account); err != nil {
				return nil, err
			}
			result.Imported++
			continue
		}

		if existing.Username == rc.Username && existing.CustomID == rc.CustomID {
			continue
		}
		if err := s.db.WithContext(ctx).
			Model(&consumerdomain.ConsumerAccount{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"username":   rc.Username,
				"custom_id":  rc.CustomID,
				"updated_at": now,
			}).Error; err != nil {
			return nil, err
		}
		result.Updated++
	}

	s.log.Info("consumers synced",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("imported", result.Imported),
		zap.Int("updated", result.Updated),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, accountID snowflake.ID) (*consumerdomain.ConsumerAccount, error) {
	account, err := s.repo.FindOne(ctx, &consumerdomain.ConsumerAccount{ID: accountID})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, consumerdomain.ErrConsumerNotFound
	}
	return account, nil
}

func (s *Service) GetByRemoteID(ctx context.Context, tenantID snowflake.ID, remoteConsumerID string) (*consumerdomain.ConsumerAccount, error) {
	account, err := s.repo.FindOne(ctx, &consumerdomain.ConsumerAccount{
		TenantID:         tenantID,
		RemoteConsumerID: strings.TrimSpace(remoteConsumerID),
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, consumerdomain.ErrConsumerNotFound
	}
	return account, nil
}

func (s *Service) List(ctx context.Context, tenantID snowflake.ID) ([]*consumerdomain.ConsumerAccount, error) {
	return s.repo.Find(ctx, &consumerdomain.ConsumerAccount{TenantID: tenantID})
}

func (s *Service) AssignPlan(ctx context.Context, accountID snowflake.ID, planCode string) error {
	planCode = strings.TrimSpace(planCode)
	if _, err := s.plans.ByCode(planCode); err != nil {
		return consumerdomain.ErrInvalidPlan
	}

	res := s.db.WithContext(ctx).
		Model(&consumerdomain.ConsumerAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"plan_code":  planCode,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return consumerdomain.ErrConsumerNotFound
	}
	return nil
}

// AdjustBalance applies the delta with a single relative UPDATE so two
// concurrent debits can never lose a write.
func (s *Service) AdjustBalance(ctx context.Context, accountID snowflake.ID, delta float64) (*consumerdomain.ConsumerAccount, error) {
	res := s.db.WithContext(ctx).
		Model(&consumerdomain.ConsumerAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, consumerdomain.ErrConsumerNotFound
	}
	return s.Get(ctx, accountID)
}

func (s *Service) SetStatus(ctx context.Context, accountID snowflake.ID, status consumerdomain.AccountStatus) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == consumerdomain.StatusSuspended {
		updates["suspended_at"] = now
	} else {
		updates["suspended_at"] = nil
	}

	res := s.db.WithContext(ctx).
		Model(&consumerdomain.ConsumerAccount{}).
		Where("id = ?", accountID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return consumerdomain.ErrConsumerNotFound
	}
	return nil
}

func (s *Service) MarkEnforced(ctx context.Context, accountID snowflake.ID, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&consumerdomain.ConsumerAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"last_enforced_at": at.UTC(),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return consumerdomain.ErrConsumerNotFound
	}
	return nil
}
