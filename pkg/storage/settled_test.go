package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/storage/storagemock"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var meter = types.MeterPoint{MPAN: "1200000000001", SerialNumber: "21L0000001"}

type upstream struct {
	readings []types.MeterReading
	rates    []types.Rate
	energy   types.EnergyDetails
	battery  types.BatteryHistory
	err      error
	calls    int
}

func (u *upstream) MeterPoint(types.Direction) (types.MeterPoint, error) {
	return meter, nil
}

func (u *upstream) GetMeterReadings(ctx context.Context, m types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	u.calls++
	return u.readings, u.err
}

func (u *upstream) GetRates(ctx context.Context, d types.Direction, from, to time.Time) ([]types.Rate, error) {
	u.calls++
	return u.rates, u.err
}

func (u *upstream) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	u.calls++
	return u.energy, u.err
}

func (u *upstream) GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error) {
	u.calls++
	return u.battery, u.err
}

func (u *upstream) sources() billing.Sources {
	return billing.Sources{Meters: u, Rates: u, Telemetry: u, Battery: u}
}

func halfHourly(from time.Time, n int) []types.MeterReading {
	out := make([]types.MeterReading, n)
	for i := range out {
		start := from.Add(time.Duration(i) * 30 * time.Minute)
		out[i] = types.MeterReading{From: start, To: start.Add(30 * time.Minute), KWH: 0.5}
	}
	return out
}

func TestSettledNilDatabase(t *testing.T) {
	u := &upstream{}
	src := storage.NewSettled(nil, u.sources(), 30*time.Minute)
	assert.Same(t, u, src.Meters)
}

func TestSettledMeterReadings(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	t.Run("ServedFromDatabase", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetMeterReadings", mock.Anything, meter, from, to).Return(halfHourly(from, 48), nil).Once()
		u := &upstream{}

		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		got, err := src.Meters.GetMeterReadings(ctx, meter, from, to)
		require.NoError(t, err)
		assert.Len(t, got, 48)
		assert.Equal(t, 0, u.calls)
		db.AssertExpectations(t)
	})

	t.Run("IncompleteGoesUpstreamAndStores", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetMeterReadings", mock.Anything, meter, from, to).Return(halfHourly(from, 10), nil).Once()
		full := halfHourly(from, 48)
		db.On("UpsertMeterReadings", mock.Anything, meter, full).Return(nil).Once()
		u := &upstream{readings: full}

		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		got, err := src.Meters.GetMeterReadings(ctx, meter, from, to)
		require.NoError(t, err)
		assert.Equal(t, full, got)
		assert.Equal(t, 1, u.calls)
		db.AssertExpectations(t)
	})

	t.Run("PartialUpstreamNotStored", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetMeterReadings", mock.Anything, meter, from, to).Return(nil, nil).Once()
		u := &upstream{readings: halfHourly(from, 20)}

		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		got, err := src.Meters.GetMeterReadings(ctx, meter, from, to)
		require.NoError(t, err)
		assert.Len(t, got, 20)
		db.AssertNotCalled(t, "UpsertMeterReadings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FutureWindowSkipsDatabase", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		future := time.Now().Add(24 * time.Hour).Truncate(30 * time.Minute)
		u := &upstream{readings: halfHourly(future, 2)}

		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		_, err := src.Meters.GetMeterReadings(ctx, meter, future, future.Add(time.Hour))
		require.NoError(t, err)
		db.AssertNotCalled(t, "GetMeterReadings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "UpsertMeterReadings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UpstreamErrorPropagates", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetMeterReadings", mock.Anything, meter, from, to).Return(nil, errors.New("unavailable")).Once()
		u := &upstream{err: errors.New("boom")}

		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		_, err := src.Meters.GetMeterReadings(ctx, meter, from, to)
		assert.EqualError(t, err, "boom")
	})

	t.Run("MeterPointPassesThrough", func(t *testing.T) {
		src := storage.NewSettled(&storagemock.MockDatabase{}, (&upstream{}).sources(), 30*time.Minute)
		mp, err := src.Meters.MeterPoint(types.DirectionExport)
		require.NoError(t, err)
		assert.Equal(t, meter, mp)
	})
}

func TestSettledRates(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2022, 12, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	dayRate := []types.Rate{{ValidFrom: from.Add(-time.Hour), PenceIncVAT: 34}}
	gappy := []types.Rate{
		{ValidFrom: from, ValidTo: from.Add(time.Hour), PenceIncVAT: 30},
		{ValidFrom: from.Add(2 * time.Hour), ValidTo: to, PenceIncVAT: 31},
	}

	t.Run("CoveredFromDatabase", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetRates", mock.Anything, types.DirectionConsumption, from, to).Return(dayRate, nil).Once()
		u := &upstream{}
		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		got, err := src.Rates.GetRates(ctx, types.DirectionConsumption, from, to)
		require.NoError(t, err)
		assert.Equal(t, dayRate, got)
		assert.Equal(t, 0, u.calls)
	})

	t.Run("GapGoesUpstream", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetRates", mock.Anything, types.DirectionConsumption, from, to).Return(gappy, nil).Once()
		u := &upstream{rates: gappy}
		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		got, err := src.Rates.GetRates(ctx, types.DirectionConsumption, from, to)
		require.NoError(t, err)
		assert.Equal(t, gappy, got)
		assert.Equal(t, 1, u.calls)
		db.AssertNotCalled(t, "UpsertRates", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("StoresCoveringUpstream", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetRates", mock.Anything, types.DirectionExport, from, to).Return(nil, nil).Once()
		db.On("UpsertRates", mock.Anything, types.DirectionExport, dayRate).Return(errors.New("quota")).Once()
		u := &upstream{rates: dayRate}
		src := storage.NewSettled(db, u.sources(), 30*time.Minute)
		// a failed store still returns the upstream rates
		got, err := src.Rates.GetRates(ctx, types.DirectionExport, from, to)
		require.NoError(t, err)
		assert.Equal(t, dayRate, got)
		db.AssertExpectations(t)
	})
}

func TestSettledTelemetry(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	ed := types.EnergyDetails{Unit: types.UnitWh, Timestamps: []time.Time{from}, Series: map[types.TelemetrySeries][]float64{types.SeriesPurchased: {500}}}
	bh := types.BatteryHistory{Timestamps: []time.Time{from}, StoredEnergyWh: []float64{5000}, ChargeFromGridWh: 10}

	db := &storagemock.MockDatabase{}
	db.On("GetEnergyDetails", mock.Anything, from, to).Return(types.EnergyDetails{}, false, nil).Once()
	db.On("UpsertEnergyDetails", mock.Anything, from, to, ed).Return(nil).Once()
	db.On("GetBatteryHistory", mock.Anything, from, to).Return(bh, true, nil).Once()
	u := &upstream{energy: ed}

	src := storage.NewSettled(db, u.sources(), 30*time.Minute)
	got, err := src.Telemetry.GetEnergyDetails(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, ed, got)

	gotBH, err := src.Battery.GetBatteryHistory(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, bh, gotBH)
	assert.Equal(t, 1, u.calls)
	db.AssertExpectations(t)
}
