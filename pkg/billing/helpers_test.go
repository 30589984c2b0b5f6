package billing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	importMeter = types.MeterPoint{MPAN: "1200000000001", SerialNumber: "21L0000001"}
	exportMeter = types.MeterPoint{MPAN: "1200000000002", SerialNumber: "21L0000001"}
)

func londonGrid(t *testing.T) *period.Grid {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	g, err := period.NewGrid(period.DefaultLength, loc)
	require.NoError(t, err)
	return g
}

func readingsFor(periods []types.Period, kwh func(i int) float64) []types.MeterReading {
	out := make([]types.MeterReading, len(periods))
	for i, p := range periods {
		out[i] = types.MeterReading{From: p.Start, To: p.End, KWH: kwh(i)}
	}
	return out
}

func agileRates(periods []types.Period, pence func(i int) float64) []types.Rate {
	out := make([]types.Rate, len(periods))
	for i, p := range periods {
		exc := pence(i)
		out[i] = types.Rate{ValidFrom: p.Start, ValidTo: p.End, PenceExcVAT: exc, PenceIncVAT: exc * 1.05}
	}
	return out
}

// quarterHourly spreads each period's kWh evenly over two 15 minute samples in
// Wh, like an inverter energyDetails response.
func quarterHourly(periods []types.Period, purchased, feedIn []float64) types.EnergyDetails {
	d := types.EnergyDetails{
		TimeUnit: "QUARTER_OF_AN_HOUR",
		Unit:     types.UnitWh,
		Series:   map[types.TelemetrySeries][]float64{},
	}
	for i, p := range periods {
		for j := 0; j < 2; j++ {
			d.Timestamps = append(d.Timestamps, p.Start.Add(time.Duration(j)*15*time.Minute))
			d.Series[types.SeriesPurchased] = append(d.Series[types.SeriesPurchased], purchased[i]*1000/2)
			d.Series[types.SeriesFeedIn] = append(d.Series[types.SeriesFeedIn], feedIn[i]*1000/2)
		}
	}
	return d
}

// fakeSources serves fixed data per day and counts every fetch.
type fakeSources struct {
	grid      *period.Grid
	readings  map[types.Direction]func(day types.Day) []types.MeterReading
	rates     func(day types.Day) []types.Rate
	telemetry func(day types.Day) (types.EnergyDetails, error)
	battery   types.BatteryHistory

	readingCalls   atomic.Int64
	rateCalls      atomic.Int64
	telemetryCalls atomic.Int64
}

func (f *fakeSources) sources() Sources {
	return Sources{Meters: f, Rates: f, Telemetry: f, Battery: f}
}

func (f *fakeSources) MeterPoint(direction types.Direction) (types.MeterPoint, error) {
	if direction == types.DirectionExport {
		return exportMeter, nil
	}
	return importMeter, nil
}

func (f *fakeSources) GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	f.readingCalls.Add(1)
	direction := types.DirectionConsumption
	if meter == exportMeter {
		direction = types.DirectionExport
	}
	fn := f.readings[direction]
	if fn == nil {
		return nil, nil
	}
	return fn(types.DayOf(from.In(f.grid.Location()))), nil
}

func (f *fakeSources) GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error) {
	f.rateCalls.Add(1)
	return f.rates(types.DayOf(from.In(f.grid.Location()))), nil
}

func (f *fakeSources) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	f.telemetryCalls.Add(1)
	return f.telemetry(types.DayOf(from.In(f.grid.Location())))
}

func (f *fakeSources) GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error) {
	return f.battery, nil
}

type mockMeters struct {
	mock.Mock
}

func (m *mockMeters) MeterPoint(direction types.Direction) (types.MeterPoint, error) {
	args := m.Called(direction)
	return args.Get(0).(types.MeterPoint), args.Error(1)
}

func (m *mockMeters) GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	args := m.Called(ctx, meter, from, to)
	if v := args.Get(0); v != nil {
		return v.([]types.MeterReading), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockRates struct {
	mock.Mock
}

func (m *mockRates) GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error) {
	args := m.Called(ctx, direction, from, to)
	if v := args.Get(0); v != nil {
		return v.([]types.Rate), args.Error(1)
	}
	return nil, args.Error(1)
}
