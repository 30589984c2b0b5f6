package loads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/heatpump"
	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2023, time.January, 10, 12, 0, 0, 0, time.UTC)

func every(step time.Duration, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

func TestSplit(t *testing.T) {
	ref := every(15*time.Minute, 4)
	load := []float64{1000, 3000, 3000, 1000}
	heatPump := SubLoad{
		Name:       "heat_pump",
		Timestamps: every(5*time.Minute, 9),
		PowerW:     []float64{0, 0, 2000, 2000, 2000, 2000, 2000, 2000, 0},
	}

	b, err := Split(ref, load, []SubLoad{heatPump}, series.ModeFollowing)
	require.NoError(t, err)
	assert.Equal(t, []float64{2000.0 / 3, 2000, 4000.0 / 3, 0}, b.SubLoadsW["heat_pump"])
	assert.InDeltaSlice(t, []float64{1000 - 2000.0/3, 1000, 3000 - 4000.0/3, 1000}, b.HouseholdW, 1e-9)
	// the input is untouched
	assert.Equal(t, []float64{1000, 3000, 3000, 1000}, b.LoadW)
}

func TestSplitErrors(t *testing.T) {
	ref := every(15*time.Minute, 2)
	_, err := Split(ref, []float64{1}, nil, series.ModeMidpoint)
	assert.ErrorIs(t, err, series.ErrSizeMismatch)

	sub := SubLoad{Name: "car", Timestamps: ref, PowerW: []float64{1, 1}}
	_, err = Split(ref, []float64{1, 1}, []SubLoad{sub, sub}, series.ModeMidpoint)
	assert.ErrorContains(t, err, "duplicate")

	b, err := Split(ref, []float64{5, 5}, []SubLoad{{Name: "empty"}}, series.ModeMidpoint)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, b.SubLoadsW["empty"])
	assert.Equal(t, []float64{5, 5}, b.HouseholdW)
}

type fakePower struct {
	details types.EnergyDetails
	err     error
}

func (f fakePower) GetPowerDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	return f.details, f.err
}

type fakeBattery types.BatteryHistory

func (f fakeBattery) GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error) {
	return types.BatteryHistory(f), nil
}

type fakeHeatPump heatpump.History

func (f fakeHeatPump) GetHistory(ctx context.Context, from, to time.Time) (heatpump.History, error) {
	return heatpump.History(f), nil
}

func TestBreaker(t *testing.T) {
	ref := every(15*time.Minute, 2)
	power := types.EnergyDetails{
		Unit:       types.UnitW,
		Timestamps: ref,
		Series: map[types.TelemetrySeries][]float64{
			types.SeriesConsumption: {4000, 1500},
			types.SeriesPurchased:   {3000, 0},
		},
	}
	b := &Breaker{
		Power: fakePower{details: power},
		Battery: fakeBattery{
			Timestamps: ref,
			PowerW:     []float64{2500, -800},
		},
		HeatPump: fakeHeatPump{
			Timestamps:   ref,
			ElectricalKW: []float64{1, 0.5},
			HeatingKW:    []float64{3, 1.5},
		},
		Mode: series.ModeMidpoint,
	}

	bd, err := b.Breakdown(context.Background(), ref[0], ref[1].Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 500}, bd.SubLoadsW["heat_pump"])
	assert.Equal(t, []float64{2500, 0}, bd.SubLoadsW["battery_grid_charging"])
	assert.Equal(t, []float64{500, 1000}, bd.HouseholdW)

	t.Run("KW", func(t *testing.T) {
		kw := power
		kw.Unit = types.UnitKW
		kw.Series = map[types.TelemetrySeries][]float64{types.SeriesConsumption: {2, 1}}
		bd, err := (&Breaker{Power: fakePower{details: kw}}).Breakdown(context.Background(), ref[0], ref[1])
		require.NoError(t, err)
		assert.Equal(t, []float64{2000, 1000}, bd.HouseholdW)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := (&Breaker{}).Breakdown(context.Background(), ref[0], ref[1])
		assert.Error(t, err)

		_, err = (&Breaker{Power: fakePower{err: errors.New("boom")}}).Breakdown(context.Background(), ref[0], ref[1])
		assert.ErrorContains(t, err, "boom")

		_, err = (&Breaker{Power: fakePower{details: types.EnergyDetails{Timestamps: ref}}}).Breakdown(context.Background(), ref[0], ref[1])
		assert.ErrorContains(t, err, "Consumption")
	})
}
