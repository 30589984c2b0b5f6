package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInvoice(t *testing.T) {
	inv, err := LoadInvoice("testdata/invoices.yaml")
	require.NoError(t, err)
	assert.Equal(t, types.TaxExclusive, inv.Tax)
	require.Len(t, inv.Days, 6)

	first := inv.Days[0]
	assert.Equal(t, types.Day{Year: 2022, Month: time.December, Day: 2}, first.Day)
	assert.Equal(t, "17.57", first.KWH.String())
	assert.InDelta(t, 573, first.Pence(), 1e-9)
}

func TestParseInvoiceErrors(t *testing.T) {
	_, err := ParseInvoice(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ParseInvoice(strings.NewReader("tax: gross\n"))
	assert.Error(t, err)

	_, err = ParseInvoice(strings.NewReader("days:\n  - day: 2022-12-02\n    kwh: lots\n    amount: 1\n"))
	assert.Error(t, err)

	_, err = ParseInvoice(strings.NewReader("days:\n  - day: 2022-12-02\n    kwh: 1\n    amount: 1\n    vat: 5\n"))
	assert.Error(t, err)

	inv, err := ParseInvoice(strings.NewReader("days:\n  - day: \"2022-12-02\"\n    kwh: \"1.5\"\n    amount: \"0.49\"\n"))
	require.NoError(t, err)
	assert.Equal(t, types.TaxExclusive, inv.Tax)
	assert.InDelta(t, 49, inv.Days[0].Pence(), 1e-9)
}

func TestCheckInvoice(t *testing.T) {
	inv, err := LoadInvoice("testdata/invoices.yaml")
	require.NoError(t, err)
	day := inv.Days[0]

	periods := londonGrid(t).PeriodsForDay(day.Day)
	require.Len(t, periods, 48)
	// 47 * 0.37 + 0.18 = 17.57 kWh
	f := newFixedDay(periods,
		func(i int) float64 {
			if i == len(periods)-1 {
				return 0.18
			}
			return 0.37
		},
		func(i int) float64 { return 0 },
		32.6,
	)
	c := newTestChecker(t, f)

	results := c.CheckInvoice(context.Background(), Invoice{Tax: inv.Tax, Days: []InvoiceDay{day}})
	require.Len(t, results, 1)
	res := results[0]
	assert.Empty(t, res.Error)
	assert.InDelta(t, 17.57, res.CalculatedKWH, 1e-9)
	assert.InDelta(t, 573, res.CalculatedPence, 2)
	assert.InDelta(t, 17.57, res.EstimatedKWH, 1e-9)
	assert.True(t, res.OK())

	// billed on a different tariff than the statement
	f.rateExc = 20
	c = newTestChecker(t, f)
	results = c.CheckInvoice(context.Background(), Invoice{Tax: inv.Tax, Days: []InvoiceDay{day}})
	require.Len(t, results, 1)
	assert.False(t, results[0].CalculatedOK)
	assert.False(t, results[0].OK())

	// readings not published yet, the estimate is still checked
	f.rateExc = 32.6
	f.readings[types.DirectionConsumption] = nil
	c = newTestChecker(t, f)
	results = c.CheckInvoice(context.Background(), Invoice{Tax: inv.Tax, Days: []InvoiceDay{day}})
	require.Len(t, results, 1)
	res = results[0]
	assert.Contains(t, res.Error, "calculated")
	assert.NotContains(t, res.Error, "estimated")
	assert.False(t, res.CalculatedOK)
	assert.InDelta(t, 17.57, res.EstimatedKWH, 1e-9)
	assert.InDelta(t, 573, res.EstimatedPence, 2)
	assert.True(t, res.EstimatedOK)
	assert.False(t, res.OK())
}
