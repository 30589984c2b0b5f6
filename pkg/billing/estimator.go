package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Options tunes an Estimator.
type Options struct {
	// BatteryCorrection adds the battery's stored energy change to the
	// estimated consumption total on days it charged from the grid.
	BatteryCorrection bool

	// PrefetchConcurrency limits concurrent upstream fetches in Prefetch.
	PrefetchConcurrency int
}

// Estimator hands out one DayEstimate per calendar day and keeps them for
// reuse.
type Estimator struct {
	grid *period.Grid
	src  Sources
	opts Options

	mu   sync.Mutex
	days map[types.Day]*DayEstimate
}

// NewEstimator returns an Estimator over the given grid and sources.
func NewEstimator(grid *period.Grid, src Sources, opts Options) *Estimator {
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = 4
	}
	return &Estimator{
		grid: grid,
		src:  src,
		opts: opts,
		days: make(map[types.Day]*DayEstimate),
	}
}

// ConfiguredOptions registers the estimator flags and returns Options that
// are filled in once flags are parsed.
func ConfiguredOptions() *Options {
	batteryCorrection := lflag.Bool("battery-correction", false, "Add the battery stored energy change to estimated consumption on days it charged from the grid")
	concurrency := lflag.String("prefetch-concurrency", "4", "Maximum concurrent upstream fetches when prefetching a day")

	opts := &Options{}
	lflag.Do(func() {
		opts.BatteryCorrection = *batteryCorrection
		n, err := strconv.Atoi(*concurrency)
		if err != nil || n < 1 {
			panic(fmt.Sprintf("invalid prefetch-concurrency %q", *concurrency))
		}
		opts.PrefetchConcurrency = n
	})
	return opts
}

// Grid returns the billing grid.
func (e *Estimator) Grid() *period.Grid {
	return e.grid
}

// Day returns the estimate for day, creating it on first use.
func (e *Estimator) Day(day types.Day) *DayEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	if est, ok := e.days[day]; ok {
		return est
	}
	est := newDayEstimate(day, e.grid, e.src, e.opts)
	e.days[day] = est
	return est
}

// Forget drops the cached estimate for day so the next use refetches.
func (e *Estimator) Forget(day types.Day) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.days, day)
}

// Prefetch fetches every raw payload of day concurrently. Payloads that
// arrive are kept even when others fail. The returned error joins every
// failure.
func (e *Estimator) Prefetch(ctx context.Context, day types.Day) error {
	est := e.Day(day)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.opts.PrefetchConcurrency)
	run := func(name string, fetch func() error) {
		g.Go(func() error {
			if err := fetch(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}

	for _, d := range directions {
		run(string(d)+" readings", func() error {
			_, err := est.MeterReadings(ctx, d)
			return err
		})
		run(string(d)+" rates", func() error {
			_, err := est.RawRates(ctx, d)
			return err
		})
	}
	run("telemetry", func() error {
		_, err := est.EnergyDetails(ctx)
		return err
	})
	if e.opts.BatteryCorrection {
		run("battery", func() error {
			_, err := est.BatteryHistory(ctx)
			return err
		})
	}
	// workers never return errors, failures are collected above
	_ = g.Wait()

	if len(errs) > 0 {
		log.Ctx(ctx).WarnContext(ctx, "prefetch incomplete", slog.String("day", day.String()), slog.Int("failures", len(errs)))
	}
	return errors.Join(errs...)
}

// ItemisedBill returns the per-period cost or credit of direction along path.
func (e *Estimator) ItemisedBill(ctx context.Context, day types.Day, direction types.Direction, path types.Path, tax types.TaxMode) ([]float64, error) {
	return e.Day(day).Itemised(ctx, direction, path, tax)
}

// CalculateBillForDay returns the day's cost in pence from meter readings.
func (e *Estimator) CalculateBillForDay(ctx context.Context, day types.Day, tax types.TaxMode) (float64, error) {
	return e.Day(day).Total(ctx, types.DirectionConsumption, types.PathCalculated, tax)
}

// EstimateBillForDay returns the day's cost in pence from telemetry.
func (e *Estimator) EstimateBillForDay(ctx context.Context, day types.Day, tax types.TaxMode) (float64, error) {
	return e.Day(day).Total(ctx, types.DirectionConsumption, types.PathEstimated, tax)
}

// CalculateCreditForDay returns the day's export credit in pence from meter
// readings.
func (e *Estimator) CalculateCreditForDay(ctx context.Context, day types.Day, tax types.TaxMode) (float64, error) {
	return e.Day(day).Total(ctx, types.DirectionExport, types.PathCalculated, tax)
}

// EstimateCreditForDay returns the day's export credit in pence from
// telemetry.
func (e *Estimator) EstimateCreditForDay(ctx context.Context, day types.Day, tax types.TaxMode) (float64, error) {
	return e.Day(day).Total(ctx, types.DirectionExport, types.PathEstimated, tax)
}

// ConsumptionForDay returns the metered kWh of every billing period.
func (e *Estimator) ConsumptionForDay(ctx context.Context, day types.Day) ([]float64, error) {
	return e.Day(day).Calculated(ctx, types.DirectionConsumption)
}

// ExportForDay returns the metered export kWh of every billing period.
func (e *Estimator) ExportForDay(ctx context.Context, day types.Day) ([]float64, error) {
	return e.Day(day).Calculated(ctx, types.DirectionExport)
}

// EstimateConsumption returns the telemetry kWh bought from the grid in every
// billing period.
func (e *Estimator) EstimateConsumption(ctx context.Context, day types.Day) ([]float64, error) {
	return e.Day(day).Estimated(ctx, types.DirectionConsumption)
}

// EstimateExport returns the telemetry kWh fed into the grid in every billing
// period.
func (e *Estimator) EstimateExport(ctx context.Context, day types.Day) ([]float64, error) {
	return e.Day(day).Estimated(ctx, types.DirectionExport)
}
