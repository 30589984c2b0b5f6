package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/require"
)

var (
	importMeter = types.MeterPoint{MPAN: "1200000000001", SerialNumber: "21L0000001"}
	exportMeter = types.MeterPoint{MPAN: "1200000000002", SerialNumber: "21L0000001"}
)

// fixedDay serves one day of readings, flat rates and quarter hourly
// telemetry in Wh.
type fixedDay struct {
	readings  map[types.Direction][]types.MeterReading
	telemetry types.EnergyDetails
	rateExc   float64
}

func (f *fixedDay) MeterPoint(direction types.Direction) (types.MeterPoint, error) {
	if direction == types.DirectionExport {
		return exportMeter, nil
	}
	return importMeter, nil
}

func (f *fixedDay) GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	if meter == exportMeter {
		return f.readings[types.DirectionExport], nil
	}
	return f.readings[types.DirectionConsumption], nil
}

func (f *fixedDay) GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error) {
	return []types.Rate{{ValidFrom: from, ValidTo: to, PenceExcVAT: f.rateExc, PenceIncVAT: f.rateExc * 1.05}}, nil
}

func (f *fixedDay) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	return f.telemetry, nil
}

func londonGrid(t *testing.T) *period.Grid {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	g, err := period.NewGrid(period.DefaultLength, loc)
	require.NoError(t, err)
	return g
}

// newFixedDay builds a day where telemetry reports the given kWh per period
// for each direction, and the meter reports the same unless overridden later.
func newFixedDay(periods []types.Period, consumption, export func(i int) float64, rateExc float64) *fixedDay {
	f := &fixedDay{
		readings: map[types.Direction][]types.MeterReading{},
		telemetry: types.EnergyDetails{
			TimeUnit: "QUARTER_OF_AN_HOUR",
			Unit:     types.UnitWh,
			Series:   map[types.TelemetrySeries][]float64{},
		},
		rateExc: rateExc,
	}
	for i, p := range periods {
		f.readings[types.DirectionConsumption] = append(f.readings[types.DirectionConsumption], types.MeterReading{From: p.Start, To: p.End, KWH: consumption(i)})
		f.readings[types.DirectionExport] = append(f.readings[types.DirectionExport], types.MeterReading{From: p.Start, To: p.End, KWH: export(i)})
		for j := 0; j < 2; j++ {
			f.telemetry.Timestamps = append(f.telemetry.Timestamps, p.Start.Add(time.Duration(j)*15*time.Minute))
			f.telemetry.Series[types.SeriesPurchased] = append(f.telemetry.Series[types.SeriesPurchased], consumption(i)*1000/2)
			f.telemetry.Series[types.SeriesFeedIn] = append(f.telemetry.Series[types.SeriesFeedIn], export(i)*1000/2)
		}
	}
	return f
}

func newTestChecker(t *testing.T, f *fixedDay) *Checker {
	t.Helper()
	est := billing.NewEstimator(londonGrid(t), billing.Sources{Meters: f, Rates: f, Telemetry: f}, billing.Options{})
	return NewChecker(est, DefaultBands())
}
