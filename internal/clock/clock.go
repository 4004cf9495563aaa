// Package clock abstracts time for scheduler tests.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Ticker delivers ticks on Chan at the interval it was created with.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{ticker: time.NewTicker(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t systemTicker) Chan() <-chan time.Time { return t.ticker.C }
func (t systemTicker) Stop()                  { t.ticker.Stop() }

func NewSystemClock() Clock { return systemClock{} }

// Module provides the system clock.
var Module = fx.Provide(NewSystemClock)
