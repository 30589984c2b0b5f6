package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/metrics"
	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/types"
)

var directions = []types.Direction{types.DirectionConsumption, types.DirectionExport}

// DayEstimate computes both billing paths for a single day. Raw upstream
// payloads are fetched at most once and derived arrays are memoized, so
// repeated calls return identical results without refetching.
type DayEstimate struct {
	day  cell[types.Day]
	grid *period.Grid
	src  Sources
	opts Options

	periods  []types.Period
	readings map[types.Direction]*cell[[]types.MeterReading]
	rates    map[types.Direction]*cell[[]types.Rate]
	energy   cell[types.EnergyDetails]
	battery  cell[types.BatteryHistory]

	mu   sync.Mutex
	memo map[memoKey]*cell[[]float64]
}

type memoKey struct {
	name      string
	direction types.Direction
	path      types.Path
	tax       types.TaxMode
}

func newDayEstimate(day types.Day, grid *period.Grid, src Sources, opts Options) *DayEstimate {
	e := &DayEstimate{
		grid:     grid,
		src:      src,
		opts:     opts,
		periods:  grid.PeriodsForDay(day),
		readings: make(map[types.Direction]*cell[[]types.MeterReading], len(directions)),
		rates:    make(map[types.Direction]*cell[[]types.Rate], len(directions)),
		memo:     make(map[memoKey]*cell[[]float64]),
	}
	for _, d := range directions {
		e.readings[d] = &cell[[]types.MeterReading]{}
		e.rates[d] = &cell[[]types.Rate]{}
	}
	// a fresh cell cannot already be set
	_ = e.day.Set(day)
	return e
}

// Day returns the day this estimate covers.
func (e *DayEstimate) Day() types.Day {
	d, _ := e.day.Get()
	return d
}

// SetDay assigns the day. Assigning the same day again is a no-op, any other
// day fails with ErrAlreadySet.
func (e *DayEstimate) SetDay(day types.Day) error {
	if err := e.day.Set(day); err != nil {
		if cur, _ := e.day.Get(); cur == day {
			return nil
		}
		return fmt.Errorf("day is %s, cannot change to %s: %w", e.Day(), day, err)
	}
	return nil
}

// BillingPeriods returns the grid periods of the day.
func (e *DayEstimate) BillingPeriods() []types.Period {
	return slices.Clone(e.periods)
}

func (e *DayEstimate) bounds() (time.Time, time.Time) {
	return e.grid.DayBounds(e.Day())
}

func checkDirection(d types.Direction) error {
	if !slices.Contains(directions, d) {
		return fmt.Errorf("unknown direction: %q", d)
	}
	return nil
}

// SetMeterReadings supplies the raw readings for direction instead of
// fetching them.
func (e *DayEstimate) SetMeterReadings(direction types.Direction, readings []types.MeterReading) error {
	if err := checkDirection(direction); err != nil {
		return err
	}
	if err := e.readings[direction].Set(readings); err != nil {
		return fmt.Errorf("%s readings for %s: %w", direction, e.Day(), err)
	}
	return nil
}

// SetRates supplies the raw rates for direction instead of fetching them.
func (e *DayEstimate) SetRates(direction types.Direction, rates []types.Rate) error {
	if err := checkDirection(direction); err != nil {
		return err
	}
	if err := e.rates[direction].Set(rates); err != nil {
		return fmt.Errorf("%s rates for %s: %w", direction, e.Day(), err)
	}
	return nil
}

// SetEnergyDetails supplies the raw telemetry instead of fetching it.
func (e *DayEstimate) SetEnergyDetails(details types.EnergyDetails) error {
	if err := e.energy.Set(details); err != nil {
		return fmt.Errorf("telemetry for %s: %w", e.Day(), err)
	}
	return nil
}

// SetBatteryHistory supplies the raw battery telemetry instead of fetching it.
func (e *DayEstimate) SetBatteryHistory(history types.BatteryHistory) error {
	if err := e.battery.Set(history); err != nil {
		return fmt.Errorf("battery history for %s: %w", e.Day(), err)
	}
	return nil
}

func timedFetch[T any](ctx context.Context, source string, fetch func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fetch()
	metrics.ObserveSourceFetch(source, err, time.Since(start))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "upstream fetch failed", slog.String("source", source), slog.Any("error", err))
	}
	return v, err
}

// MeterReadings returns the raw readings for direction.
func (e *DayEstimate) MeterReadings(ctx context.Context, direction types.Direction) ([]types.MeterReading, error) {
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	return e.readings[direction].Load(func() ([]types.MeterReading, error) {
		if e.src.Meters == nil {
			return nil, errors.New("no meter source configured")
		}
		meter, err := e.src.Meters.MeterPoint(direction)
		if err != nil {
			return nil, err
		}
		from, to := e.bounds()
		log.Ctx(ctx).DebugContext(ctx, "fetching meter readings", slog.String("day", e.Day().String()), slog.String("direction", string(direction)), slog.String("meter", meter.String()))
		return timedFetch(ctx, "meter_readings", func() ([]types.MeterReading, error) {
			return e.src.Meters.GetMeterReadings(ctx, meter, from, to)
		})
	})
}

// RawRates returns the raw rates for direction.
func (e *DayEstimate) RawRates(ctx context.Context, direction types.Direction) ([]types.Rate, error) {
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	return e.rates[direction].Load(func() ([]types.Rate, error) {
		if e.src.Rates == nil {
			return nil, errors.New("no rate source configured")
		}
		from, to := e.bounds()
		log.Ctx(ctx).DebugContext(ctx, "fetching rates", slog.String("day", e.Day().String()), slog.String("direction", string(direction)))
		return timedFetch(ctx, "rates", func() ([]types.Rate, error) {
			return e.src.Rates.GetRates(ctx, direction, from, to)
		})
	})
}

// EnergyDetails returns the raw telemetry of the day.
func (e *DayEstimate) EnergyDetails(ctx context.Context) (types.EnergyDetails, error) {
	return e.energy.Load(func() (types.EnergyDetails, error) {
		if e.src.Telemetry == nil {
			return types.EnergyDetails{}, errors.New("no telemetry source configured")
		}
		from, to := e.bounds()
		log.Ctx(ctx).DebugContext(ctx, "fetching telemetry", slog.String("day", e.Day().String()))
		return timedFetch(ctx, "telemetry", func() (types.EnergyDetails, error) {
			return e.src.Telemetry.GetEnergyDetails(ctx, from, to)
		})
	})
}

// BatteryHistory returns the raw battery telemetry of the day.
func (e *DayEstimate) BatteryHistory(ctx context.Context) (types.BatteryHistory, error) {
	return e.battery.Load(func() (types.BatteryHistory, error) {
		if e.src.Battery == nil {
			return types.BatteryHistory{}, errors.New("no battery source configured")
		}
		from, to := e.bounds()
		return timedFetch(ctx, "battery", func() (types.BatteryHistory, error) {
			return e.src.Battery.GetBatteryHistory(ctx, from, to)
		})
	})
}

// memoized returns a copy of the cached result for key, computing it on first
// use. Errors are not cached.
func (e *DayEstimate) memoized(key memoKey, compute func() ([]float64, error)) ([]float64, error) {
	e.mu.Lock()
	c, ok := e.memo[key]
	if !ok {
		c = &cell[[]float64]{}
		e.memo[key] = c
	}
	e.mu.Unlock()

	v, err := c.Load(compute)
	if err != nil {
		return nil, err
	}
	return slices.Clone(v), nil
}

// Rates returns the unit rate in pence per kWh of every billing period.
func (e *DayEstimate) Rates(ctx context.Context, direction types.Direction, tax types.TaxMode) ([]float64, error) {
	if tax != types.TaxInclusive && tax != types.TaxExclusive {
		return nil, fmt.Errorf("unknown tax mode: %q", tax)
	}
	return e.memoized(memoKey{name: "rates", direction: direction, tax: tax}, func() ([]float64, error) {
		raw, err := e.RawRates(ctx, direction)
		if err != nil {
			return nil, err
		}
		values, err := resolveRates(e.grid, e.periods, raw, tax)
		if err != nil {
			return nil, fmt.Errorf("%s rates for %s: %w", direction, e.Day(), err)
		}
		return values, nil
	})
}

// Calculated returns the authoritative kWh of every billing period. A day with
// no readings at all fails with ErrMissingMeterReading.
func (e *DayEstimate) Calculated(ctx context.Context, direction types.Direction) ([]float64, error) {
	return e.memoized(memoKey{name: "calculated", direction: direction}, func() ([]float64, error) {
		readings, err := e.MeterReadings(ctx, direction)
		if err != nil {
			return nil, err
		}
		if len(readings) == 0 {
			return nil, fmt.Errorf("%w: no %s readings found for %s", ErrMissingMeterReading, direction, e.Day())
		}
		values, err := PlaceReadings(readings, e.periods)
		if err != nil {
			return nil, fmt.Errorf("%s readings for %s: %w", direction, e.Day(), err)
		}
		return values, nil
	})
}

// Estimated returns the telemetry kWh of every billing period.
func (e *DayEstimate) Estimated(ctx context.Context, direction types.Direction) ([]float64, error) {
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	return e.memoized(memoKey{name: "estimated", direction: direction}, func() ([]float64, error) {
		details, err := e.EnergyDetails(ctx)
		if err != nil {
			return nil, err
		}
		name := types.SeriesFor(direction)
		values, ok := details.Series[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s for %s", ErrMissingTelemetry, name, e.Day())
		}
		factor, err := details.Unit.KWHFactor()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedUnit, err)
		}
		sums, err := series.Accumulate(e.periods, details.Timestamps, values)
		if err != nil {
			return nil, fmt.Errorf("could not estimate %s for %s: %w", direction, e.Day(), err)
		}
		return series.Scale(sums, factor), nil
	})
}

// Energy returns the kWh of every billing period along path.
func (e *DayEstimate) Energy(ctx context.Context, direction types.Direction, path types.Path) ([]float64, error) {
	switch path {
	case types.PathCalculated:
		return e.Calculated(ctx, direction)
	case types.PathEstimated:
		return e.Estimated(ctx, direction)
	}
	return nil, fmt.Errorf("unknown path: %q", path)
}

// EstimatedTotal returns the total estimated kWh for direction. With battery
// correction enabled, consumption on a day the battery charged from the grid
// also includes the change in stored energy.
func (e *DayEstimate) EstimatedTotal(ctx context.Context, direction types.Direction) (float64, error) {
	values, err := e.Estimated(ctx, direction)
	if err != nil {
		return 0, err
	}
	total := series.Sum(values)
	if !e.opts.BatteryCorrection || direction != types.DirectionConsumption {
		return total, nil
	}
	history, err := e.BatteryHistory(ctx)
	if err != nil {
		return 0, fmt.Errorf("battery correction for %s: %w", e.Day(), err)
	}
	if history.ChargeFromGridWh > 0 {
		total += history.StoredEnergyDeltaWh() / 1000
	}
	return total, nil
}

// Itemised returns rate x energy of every billing period in pence. For export
// this is the credit earned.
func (e *DayEstimate) Itemised(ctx context.Context, direction types.Direction, path types.Path, tax types.TaxMode) ([]float64, error) {
	return e.memoized(memoKey{name: "itemised", direction: direction, path: path, tax: tax}, func() ([]float64, error) {
		energy, err := e.Energy(ctx, direction, path)
		if err != nil {
			return nil, err
		}
		rates, err := e.Rates(ctx, direction, tax)
		if err != nil {
			return nil, err
		}
		return series.Multiply(rates, energy)
	})
}

// Total returns the sum of Itemised in pence.
func (e *DayEstimate) Total(ctx context.Context, direction types.Direction, path types.Path, tax types.TaxMode) (float64, error) {
	itemised, err := e.Itemised(ctx, direction, path, tax)
	if err != nil {
		return 0, err
	}
	return series.Sum(itemised), nil
}

// Bill collects the itemised figures of one path into a DayBill.
func (e *DayEstimate) Bill(ctx context.Context, direction types.Direction, path types.Path, tax types.TaxMode) (types.DayBill, error) {
	itemised, err := e.Itemised(ctx, direction, path, tax)
	if err != nil {
		return types.DayBill{}, err
	}
	energy, err := e.Energy(ctx, direction, path)
	if err != nil {
		return types.DayBill{}, err
	}
	rates, err := e.Rates(ctx, direction, tax)
	if err != nil {
		return types.DayBill{}, err
	}
	return types.DayBill{
		Day:        e.Day(),
		Direction:  direction,
		Path:       path,
		Tax:        tax,
		Periods:    e.BillingPeriods(),
		KWH:        energy,
		Rates:      rates,
		Itemised:   itemised,
		TotalPence: series.Sum(itemised),
	}, nil
}
