package storage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
)

// Settled wraps the upstream billing sources with a Database. Windows that
// ended before now are served from the database when it has them and are
// stored after a successful upstream fetch. Windows that have not ended yet
// always go upstream and are never stored.
type Settled struct {
	db       Database
	upstream billing.Sources
	interval time.Duration
	now      func() time.Time
}

// NewSettled returns the billing sources backed by db. interval is the
// length of one meter reading and is used to decide whether a stored window
// is complete. A nil db returns upstream unchanged.
func NewSettled(db Database, upstream billing.Sources, interval time.Duration) billing.Sources {
	if db == nil {
		return upstream
	}
	s := &Settled{
		db:       db,
		upstream: upstream,
		interval: interval,
		now:      time.Now,
	}
	src := billing.Sources{}
	if upstream.Meters != nil {
		src.Meters = settledMeters{s}
	}
	if upstream.Rates != nil {
		src.Rates = settledRates{s}
	}
	if upstream.Telemetry != nil {
		src.Telemetry = settledTelemetry{s}
	}
	if upstream.Battery != nil {
		src.Battery = settledBattery{s}
	}
	return src
}

func (s *Settled) isSettled(to time.Time) bool {
	return !to.After(s.now())
}

// store logs instead of failing since the upstream result is still good.
func (s *Settled) store(ctx context.Context, what string, err error) {
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to store settled data", slog.String("kind", what), slog.Any("error", err))
	}
}

type settledMeters struct{ *Settled }

func (s settledMeters) MeterPoint(direction types.Direction) (types.MeterPoint, error) {
	return s.upstream.Meters.MeterPoint(direction)
}

func (s settledMeters) GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	settled := s.isSettled(to)
	if settled {
		stored, err := s.db.GetMeterReadings(ctx, meter, from, to)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read stored meter readings", slog.Any("error", err))
		} else if s.interval > 0 && len(stored) >= int(to.Sub(from)/s.interval) {
			return stored, nil
		}
	}

	readings, err := s.upstream.Meters.GetMeterReadings(ctx, meter, from, to)
	if err != nil {
		return nil, err
	}
	// a day the supplier has not finished publishing is not settled yet
	if settled && s.interval > 0 && len(readings) >= int(to.Sub(from)/s.interval) {
		s.store(ctx, "meter_readings", s.db.UpsertMeterReadings(ctx, meter, readings))
	}
	return readings, nil
}

type settledRates struct{ *Settled }

// covers reports whether rates cover [from, to) without a gap.
func covers(rates []types.Rate, from, to time.Time) bool {
	sorted := make([]types.Rate, len(rates))
	copy(sorted, rates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ValidFrom.Before(sorted[j].ValidFrom)
	})
	cursor := from
	for _, r := range sorted {
		if r.ValidFrom.After(cursor) {
			return false
		}
		if r.ValidTo.IsZero() {
			return true
		}
		if r.ValidTo.After(cursor) {
			cursor = r.ValidTo
		}
		if !cursor.Before(to) {
			return true
		}
	}
	return !cursor.Before(to)
}

func (s settledRates) GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error) {
	settled := s.isSettled(to)
	if settled {
		stored, err := s.db.GetRates(ctx, direction, from, to)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read stored rates", slog.Any("error", err))
		} else if len(stored) > 0 && covers(stored, from, to) {
			return stored, nil
		}
	}

	rates, err := s.upstream.Rates.GetRates(ctx, direction, from, to)
	if err != nil {
		return nil, err
	}
	if settled && covers(rates, from, to) {
		s.store(ctx, "rates", s.db.UpsertRates(ctx, direction, rates))
	}
	return rates, nil
}

type settledTelemetry struct{ *Settled }

func (s settledTelemetry) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	settled := s.isSettled(to)
	if settled {
		stored, ok, err := s.db.GetEnergyDetails(ctx, from, to)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read stored energy details", slog.Any("error", err))
		} else if ok {
			return stored, nil
		}
	}

	ed, err := s.upstream.Telemetry.GetEnergyDetails(ctx, from, to)
	if err != nil {
		return types.EnergyDetails{}, err
	}
	if settled {
		s.store(ctx, "energy_details", s.db.UpsertEnergyDetails(ctx, from, to, ed))
	}
	return ed, nil
}

type settledBattery struct{ *Settled }

func (s settledBattery) GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error) {
	settled := s.isSettled(to)
	if settled {
		stored, ok, err := s.db.GetBatteryHistory(ctx, from, to)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read stored battery history", slog.Any("error", err))
		} else if ok {
			return stored, nil
		}
	}

	bh, err := s.upstream.Battery.GetBatteryHistory(ctx, from, to)
	if err != nil {
		return types.BatteryHistory{}, err
	}
	if settled {
		s.store(ctx, "battery_history", s.db.UpsertBatteryHistory(ctx, from, to, bh))
	}
	return bh, nil
}
