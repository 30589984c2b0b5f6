package server

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/reconcile"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelDebug)
}

var (
	importMeter = types.MeterPoint{MPAN: "1200000000001", SerialNumber: "21L0000001"}
	exportMeter = types.MeterPoint{MPAN: "1200000000002", SerialNumber: "21L0000001"}
)

// flatSite draws kwh in every period at a flat rate. Readings for days in
// unpublished are not returned yet and days in shifted have one import reading off
// the grid.
type flatSite struct {
	grid        *period.Grid
	kwh         float64
	pence       float64
	unpublished map[types.Day]bool
	shifted     map[types.Day]bool
	noTelemetry bool
}

func (f *flatSite) MeterPoint(direction types.Direction) (types.MeterPoint, error) {
	if direction == types.DirectionExport {
		return exportMeter, nil
	}
	return importMeter, nil
}

func (f *flatSite) GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	day := types.DayOf(from.In(f.grid.Location()))
	if f.unpublished[day] {
		return nil, nil
	}
	kwh := f.kwh
	if meter == exportMeter {
		kwh = 0
	}
	var out []types.MeterReading
	for _, p := range f.grid.Split(from, to) {
		out = append(out, types.MeterReading{From: p.Start, To: p.End, KWH: kwh})
	}
	if f.shifted[day] && meter == importMeter && len(out) > 0 {
		out[0].From = out[0].From.Add(10 * time.Minute)
	}
	return out, nil
}

func (f *flatSite) GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error) {
	return []types.Rate{{ValidFrom: from, ValidTo: to, PenceExcVAT: f.pence, PenceIncVAT: f.pence * 1.05}}, nil
}

func (f *flatSite) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	if f.noTelemetry {
		return types.EnergyDetails{}, errors.New("inverter offline")
	}
	d := types.EnergyDetails{
		TimeUnit: "QUARTER_OF_AN_HOUR",
		Unit:     types.UnitWh,
		Series:   map[types.TelemetrySeries][]float64{},
	}
	for t := from; t.Before(to); t = t.Add(15 * time.Minute) {
		d.Timestamps = append(d.Timestamps, t)
		d.Series[types.SeriesPurchased] = append(d.Series[types.SeriesPurchased], f.kwh*1000/2)
		d.Series[types.SeriesFeedIn] = append(d.Series[types.SeriesFeedIn], 0)
	}
	return d, nil
}

func newTestServer(t *testing.T, site *flatSite) *Server {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	grid, err := period.NewGrid(period.DefaultLength, loc)
	require.NoError(t, err)
	site.grid = grid

	est := billing.NewEstimator(grid, billing.Sources{Meters: site, Rates: site, Telemetry: site}, billing.Options{})
	srv := New(est, reconcile.NewChecker(est, reconcile.DefaultBands()), nil)
	srv.now = func() time.Time { return time.Date(2023, time.April, 5, 12, 0, 0, 0, time.UTC) }
	return srv
}
