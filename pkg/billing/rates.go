package billing

import (
	"fmt"
	"time"

	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/types"
)

// expandRates returns the rates relevant to periods, with every rate that is
// not exactly one grid period long cut into one rate per grid period it fully
// covers. Rates that end at or before the first period or start at or after
// the last one are dropped. An open-ended rate runs until the end of periods.
func expandRates(grid *period.Grid, periods []types.Period, rates []types.Rate) []types.Rate {
	if len(periods) == 0 {
		return nil
	}
	dayStart, dayEnd := periods[0].Start, periods[len(periods)-1].End

	out := make([]types.Rate, 0, len(periods))
	for _, r := range rates {
		from, to := r.ValidFrom, r.ValidTo
		if to.IsZero() {
			to = dayEnd
		}
		if !from.Before(dayEnd) || !to.After(dayStart) {
			continue
		}
		if !r.ValidTo.IsZero() && to.Sub(from) == grid.Length() {
			out = append(out, r)
			continue
		}
		if from.Before(dayStart) {
			from = dayStart
		}
		if to.After(dayEnd) {
			to = dayEnd
		}
		for _, p := range grid.Split(from, to) {
			out = append(out, types.Rate{
				ValidFrom:   p.Start,
				ValidTo:     p.End,
				PenceIncVAT: r.PenceIncVAT,
				PenceExcVAT: r.PenceExcVAT,
			})
		}
	}
	return out
}

// resolveRates places rates on periods and requires every period to be priced.
func resolveRates(grid *period.Grid, periods []types.Period, rates []types.Rate, tax types.TaxMode) ([]float64, error) {
	expanded := expandRates(grid, periods, rates)
	values, filled, err := place(expanded, periods, func(r types.Rate) float64 { return r.Price(tax) })
	if err != nil {
		return nil, err
	}
	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("%w: no rate for period starting %s", ErrMissingRates, periods[i].Start.Format(time.RFC3339))
		}
	}
	return values, nil
}
