package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/gatemeter/internal/billing/domain"
	"github.com/smallbiznis/gatemeter/internal/config"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	enforcementdomain "github.com/smallbiznis/gatemeter/internal/enforcement/domain"
	obsmetrics "github.com/smallbiznis/gatemeter/internal/observability/metrics"
	"github.com/smallbiznis/gatemeter/internal/plan"
	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
)

const quotaWindow = 30 * 24 * time.Hour

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Config      config.Config
	Plans       *plan.Holder
	Consumers   consumerdomain.Service
	Usage       usagedomain.Service
	Enforcement enforcementdomain.Service `optional:"true"`
	Metrics     *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	sweepWindow time.Duration
	plans       *plan.Holder
	consumers   consumerdomain.Service
	usage       usagedomain.Service
	enforcement enforcementdomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) billingdomain.Service {
	sweepWindow := p.Config.Billing.SweepWindow
	if sweepWindow <= 0 {
		sweepWindow = 24 * time.Hour
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		sweepWindow: sweepWindow,
		plans:       p.Plans,
		consumers:   p.Consumers,
		usage:       p.Usage,
		enforcement: p.Enforcement,
		metrics:     p.Metrics,
	}
}

func (s *Service) ProcessUnbilled(ctx context.Context, tenantID snowflake.ID) (*billingdomain.SweepResult, error) {
	if tenantID == 0 {
		return nil, billingdomain.ErrInvalidTenant
	}

	// Give stuck mappings another chance before billing; events that
	// resolve here get picked up by the query below.
	if _, err := s.usage.ResolvePending(ctx, tenantID); err != nil {
		s.log.Warn("resolution retry failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}

	now := time.Now().UTC()
	windowStart := now.Add(-s.sweepWindow)

	var events []*usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND resolution = ? AND billed = ? AND consumer_account_id IS NOT NULL AND started_at >= ?",
			tenantID, usagedomain.ResolutionResolved, false, windowStart).
		Order("started_at asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	result := &billingdomain.SweepResult{}
	accounts := make(map[snowflake.ID]*consumerdomain.ConsumerAccount)
	positions := make(map[snowflake.ID]int64)
	suspended := make(map[snowflake.ID]bool)

	for _, event := range events {
		accountID := *event.ConsumerAccountID

		account, ok := accounts[accountID]
		if !ok {
			account, err = s.consumers.Get(ctx, accountID)
			if err != nil {
				result.Failed++
				continue
			}
			accounts[accountID] = account

			// Events are ordered by started_at, so the first event seen
			// for an account is the earliest of its unbilled batch. Seed
			// the tier position with only the history before it; counting
			// the batch itself would shift every event into later tiers.
			prior, err := s.countBefore(ctx, accountID, event.StartedAt, now)
			if err != nil {
				result.Failed++
				continue
			}
			positions[accountID] = prior
		}

		accountPlan, err := s.plans.ByCode(account.PlanCode)
		if err != nil {
			result.Failed++
			s.log.Warn("plan lookup failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("plan_code", account.PlanCode),
				zap.Error(err),
			)
			continue
		}

		positions[accountID]++
		cost, err := CalculateCost(accountPlan, float64(positions[accountID]), 1)
		if err != nil {
			result.Failed++
			continue
		}

		if err := s.markBilled(ctx, event.ID, cost, now); err != nil {
			result.Failed++
			continue
		}
		result.Billed++
		result.TotalCost += cost

		if !accountPlan.Prepaid || cost == 0 {
			continue
		}

		updated, err := s.consumers.AdjustBalance(ctx, accountID, -cost)
		if err != nil {
			s.log.Error("wallet debit failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("account_id", accountID.String()),
				zap.Error(err),
			)
			continue
		}
		accounts[accountID] = updated
		if s.metrics != nil {
			s.metrics.RecordWalletDebit(ctx, tenantID.String())
		}

		if updated.Balance <= 0 && updated.Status == consumerdomain.StatusActive && !suspended[accountID] {
			suspended[accountID] = true
			result.Suspended++
			s.suspend(ctx, tenantID, updated)
		}
	}

	return result, nil
}

func (s *Service) TopUp(ctx context.Context, accountID snowflake.ID, amount float64) (*consumerdomain.ConsumerAccount, error) {
	if amount <= 0 {
		return nil, billingdomain.ErrInvalidAmount
	}

	account, err := s.consumers.AdjustBalance(ctx, accountID, amount)
	if err != nil {
		return nil, err
	}

	if account.Status == consumerdomain.StatusSuspended && account.Balance > 0 {
		s.resume(ctx, account)
		account, err = s.consumers.Get(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}
	return account, nil
}

func (s *Service) IsApproachingQuota(ctx context.Context, accountID snowflake.ID, thresholdPct float64) (bool, error) {
	account, err := s.consumers.Get(ctx, accountID)
	if err != nil {
		return false, err
	}
	accountPlan, err := s.plans.ByCode(account.PlanCode)
	if err != nil {
		return false, billingdomain.ErrPlanUnavailable
	}
	if accountPlan.MonthlyQuota <= 0 {
		return false, nil
	}
	if thresholdPct <= 0 {
		thresholdPct = 80
	}

	count, err := s.rollingCount(ctx, accountID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	threshold := float64(accountPlan.MonthlyQuota) * thresholdPct / 100
	return float64(count) >= threshold, nil
}

// rollingCount is the number of attributed requests in the trailing
// 30-day window, billed or not.
func (s *Service) rollingCount(ctx context.Context, accountID snowflake.ID, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("consumer_account_id = ? AND started_at >= ?", accountID, now.Add(-quotaWindow)).
		Count(&count).Error
	return count, err
}

// countBefore is the rolling count restricted to requests that started
// before the given instant.
func (s *Service) countBefore(ctx context.Context, accountID snowflake.ID, before, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("consumer_account_id = ? AND started_at >= ? AND started_at < ?",
			accountID, now.Add(-quotaWindow), before).
		Count(&count).Error
	return count, err
}

func (s *Service) markBilled(ctx context.Context, eventID snowflake.ID, cost float64, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("id = ? AND billed = ?", eventID, false).
		Updates(map[string]any{
			"billed":     true,
			"billed_at":  now,
			"cost":       cost,
			"updated_at": now,
		}).Error
}

// suspend pushes the gateway-side block when enforcement is wired; the
// local transition happens regardless, because a wallet at or below
// zero must never keep accruing spend.
func (s *Service) suspend(ctx context.Context, tenantID snowflake.ID, account *consumerdomain.ConsumerAccount) {
	if s.enforcement != nil {
		err := s.enforcement.SuspendConsumer(ctx, tenantID, account.RemoteConsumerID)
		if err == nil {
			account.Status = consumerdomain.StatusSuspended
			return
		}
		s.log.Warn("gateway suspension push failed, suspending locally",
			zap.String("tenant_id", tenantID.String()),
			zap.String("remote_consumer_id", account.RemoteConsumerID),
			zap.Error(err),
		)
	}
	if err := s.consumers.SetStatus(ctx, account.ID, consumerdomain.StatusSuspended); err != nil {
		s.log.Error("local suspension failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		return
	}
	account.Status = consumerdomain.StatusSuspended
	if s.metrics != nil {
		s.metrics.RecordSuspension(ctx, tenantID.String())
	}
}

func (s *Service) resume(ctx context.Context, account *consumerdomain.ConsumerAccount) {
	if s.enforcement != nil {
		err := s.enforcement.ResumeConsumer(ctx, account.TenantID, account.RemoteConsumerID)
		if err == nil {
			return
		}
		s.log.Warn("gateway resume push failed, resuming locally",
			zap.String("remote_consumer_id", account.RemoteConsumerID),
			zap.Error(err),
		)
	}
	if err := s.consumers.SetStatus(ctx, account.ID, consumerdomain.StatusActive); err != nil {
		s.log.Error("local resume failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
	}
}
