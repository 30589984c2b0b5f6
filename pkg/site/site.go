// Package site assembles the configured providers into an estimator.
package site

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/ess"
	"github.com/raterudder/energyhub/pkg/heatpump"
	"github.com/raterudder/energyhub/pkg/loads"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/reconcile"
	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/utility"
)

// Config holds every configured component until flags are parsed.
type Config struct {
	grid      *period.Grid
	utilities *utility.Map
	systems   *ess.Map
	storage   *storage.Holder
	heatPump  *heatpump.Ecoforest
	opts      *billing.Options
	bands     reconcile.Bands
	loadsMode series.Mode
}

// Configured registers the flags of every component.
func Configured() *Config {
	c := &Config{
		grid:      period.Configured(),
		utilities: utility.Configured(),
		systems:   ess.Configured(),
		storage:   storage.Configured(),
		heatPump:  heatpump.Configured(),
		opts:      billing.ConfiguredOptions(),
		bands:     reconcile.DefaultBands(),
	}
	lflag.JSON(&c.bands, "tolerance-bands", c.bands, "JSON tolerance bands for comparing the calculated and estimated paths")
	mode := lflag.String("loads-alignment", series.ModeMidpoint.String(), "How sub-load samples are aligned onto inverter timestamps (preceding, following or midpoint)")

	lflag.Do(func() {
		m, err := series.ParseMode(*mode)
		if err != nil {
			panic(fmt.Sprintf("invalid loads-alignment: %v", err))
		}
		c.loadsMode = m
	})
	return c
}

// Site is a ready to use estimator with its checker and load breakdown.
type Site struct {
	Grid      *period.Grid
	Estimator *billing.Estimator
	Checker   *reconcile.Checker
	// Loads is nil when the telemetry system does not report power.
	Loads *loads.Breaker

	db storage.Database
}

// Build selects and validates the configured providers. Call it after
// lflag.Configure.
func (c *Config) Build(ctx context.Context) (*Site, error) {
	provider, err := c.utilities.Selected(ctx)
	if err != nil {
		return nil, err
	}
	system, err := c.systems.Selected()
	if err != nil {
		return nil, err
	}

	src := billing.Sources{Meters: provider, Rates: provider, Telemetry: system}
	battery, hasBattery := system.(ess.BatterySystem)
	if hasBattery {
		src.Battery = battery
	} else if c.opts.BatteryCorrection {
		return nil, fmt.Errorf("battery-correction needs a telemetry provider with a battery")
	}
	src = storage.NewSettled(c.storage.Database, src, c.grid.Length())

	est := billing.NewEstimator(c.grid, src, *c.opts)
	s := &Site{
		Grid:      c.grid,
		Estimator: est,
		Checker:   reconcile.NewChecker(est, c.bands),
		db:        c.storage.Database,
	}

	if power, ok := system.(ess.PowerSystem); ok {
		s.Loads = &loads.Breaker{Power: power, Mode: c.loadsMode}
		if hasBattery {
			s.Loads.Battery = battery
		}
		if c.heatPump.Enabled() {
			if err := c.heatPump.Validate(); err != nil {
				return nil, fmt.Errorf("invalid heat pump configuration: %w", err)
			}
			s.Loads.HeatPump = c.heatPump
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "site configured",
		slog.Bool("storage", c.storage.Database != nil),
		slog.Bool("battery", hasBattery),
		slog.Bool("loads", s.Loads != nil),
		slog.Bool("batteryCorrection", c.opts.BatteryCorrection),
	)
	return s, nil
}

// Close releases the storage connection.
func (s *Site) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
