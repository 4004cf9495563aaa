package plan

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func DefaultCatalog() Catalog {
	return Catalog{
		Plans: []PricingPlan{
			{
				Code:  "free",
				Name:  "Free",
				Model: ModelTiered,
				Tiers: []Tier{
					{From: 0, To: floatPtr(1000), UnitPrice: 0},
				},
				MonthlyQuota: 1000,
				RateLimits:   RateLimits{Minute: 10, Hour: 200, Day: 1000},
			},
			{
				Code:  "standard",
				Name:  "Standard",
				Model: ModelTiered,
				Tiers: []Tier{
					{From: 0, To: floatPtr(10000), UnitPrice: 0.001},
					{From: 10000, To: nil, UnitPrice: 0.0005},
				},
				Prepaid:    true,
				RateLimits: RateLimits{Minute: 120, Hour: 5000, Day: 50000},
			},
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

// Holder keeps the live plan catalog behind an atomic swap so readers
// on the billing hot path never block on a reload.
type Holder struct {
	current atomic.Value // holds Catalog
	log     *zap.Logger
}

// NewHolder loads the plan catalog and watches the file for changes.
// An invalid reload is ignored and the previous catalog stays live.
func NewHolder(planFile string, log *zap.Logger) (*Holder, error) {
	v := viper.New()

	if strings.TrimSpace(planFile) != "" {
		v.SetConfigFile(planFile)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/gatemeter/config")
		v.AddConfigPath("/etc/gatemeter")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GATEMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	usingDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		usingDefaults = true
	}

	holder := &Holder{log: log.Named("plan.holder")}

	if usingDefaults {
		holder.current.Store(DefaultCatalog())
		holder.log.Info("plan file not found, using built-in catalog")
		return holder, nil
	}

	var catalog Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, err
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.Unmarshal(&updated); err != nil {
			holder.log.Warn("plan reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validateCatalog(updated); err != nil {
			holder.log.Warn("invalid plan catalog ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		holder.log.Info("plan catalog reloaded", zap.String("file", e.Name), zap.Int("plans", len(updated.Plans)))
	})

	return holder, nil
}

func (h *Holder) Get() Catalog {
	return h.current.Load().(Catalog)
}

// ByCode resolves a plan from the live catalog.
func (h *Holder) ByCode(code string) (PricingPlan, error) {
	return h.Get().ByCode(code)
}
