package reconcile

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareDay(t *testing.T) {
	day := types.Day{Year: 2023, Month: time.April, Day: 1}
	periods := londonGrid(t).PeriodsForDay(day)
	require.Len(t, periods, 48)

	t.Run("Pass", func(t *testing.T) {
		f := newFixedDay(periods,
			func(i int) float64 { return 0.5 },
			func(i int) float64 { return 0.1 },
			30,
		)
		report, err := newTestChecker(t, f).CompareDay(context.Background(), day, types.TaxInclusive)
		require.NoError(t, err)
		assert.Equal(t, OutcomePass, report.Outcome)
		require.Len(t, report.Energy, 2)
		assert.InDelta(t, 24, report.Energy[0].CalculatedKWH, 1e-9)
		assert.InDelta(t, 24, report.Energy[0].EstimatedKWH, 1e-9)
		assert.True(t, report.Energy[0].TotalOK)
		assert.True(t, report.Energy[0].PeriodsOK)
		require.Len(t, report.Cost, 2)
		assert.InDelta(t, 24*30*1.05, report.Cost[0].CalculatedPence, 1e-6)
		assert.True(t, report.Cost[0].OK)
		assert.Contains(t, report.String(), "pass")
	})

	t.Run("Fail", func(t *testing.T) {
		f := newFixedDay(periods,
			func(i int) float64 { return 0.5 },
			func(i int) float64 { return 0 },
			30,
		)
		// the meter saw a kettle the inverter did not
		f.readings[types.DirectionConsumption][20].KWH = 1.5
		report, err := newTestChecker(t, f).CompareDay(context.Background(), day, types.TaxExclusive)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFail, report.Outcome)
		assert.False(t, report.Energy[0].PeriodsOK)
		assert.InDelta(t, 1, report.Energy[0].MaxPeriodDiffKWH, 1e-9)
		assert.True(t, report.Energy[1].PeriodsOK)
	})

	t.Run("Missing", func(t *testing.T) {
		f := newFixedDay(periods,
			func(i int) float64 { return 0.5 },
			func(i int) float64 { return 0 },
			30,
		)
		f.readings[types.DirectionConsumption][3].From = periods[3].Start.Add(15 * time.Minute)
		report, err := newTestChecker(t, f).CompareDay(context.Background(), day, types.TaxExclusive)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMissing, report.Outcome)
		assert.True(t, report.Energy[0].Missing)
		assert.True(t, report.Cost[0].Missing)
	})

	t.Run("BadTax", func(t *testing.T) {
		f := newFixedDay(periods, func(i int) float64 { return 0 }, func(i int) float64 { return 0 }, 30)
		_, err := newTestChecker(t, f).CompareDay(context.Background(), day, types.TaxMode("gross"))
		assert.Error(t, err)
	})
}

func TestCompareDayLogsDayOnce(t *testing.T) {
	day := types.Day{Year: 2023, Month: time.April, Day: 1}
	periods := londonGrid(t).PeriodsForDay(day)
	f := newFixedDay(periods,
		func(i int) float64 { return 0.5 },
		func(i int) float64 { return 0.1 },
		30,
	)

	var buf bytes.Buffer
	ctx := log.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	_, err := newTestChecker(t, f).CompareDay(ctx, day, types.TaxInclusive)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var fetches int
	for _, line := range lines {
		assert.LessOrEqual(t, strings.Count(line, `"day":`), 1, line)
		if strings.Contains(line, "fetching meter readings") {
			fetches++
			assert.Contains(t, line, `"day":"2023-04-01"`)
		}
	}
	assert.Equal(t, 2, fetches)
}
