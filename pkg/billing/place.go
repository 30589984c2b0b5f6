package billing

import (
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// Interval is anything valid over a half-open time interval.
type Interval interface {
	Interval() (time.Time, time.Time)
}

// PlaceReadings lays meter readings onto periods. Periods without a reading
// are 0.
func PlaceReadings(readings []types.MeterReading, periods []types.Period) ([]float64, error) {
	return Place(readings, periods, func(r types.MeterReading) float64 { return r.KWH })
}

// Place lays items onto periods by exact start time. Every item must start on
// exactly one period and end where that period ends, and no period may receive
// two items. The result has one value per period, 0 where nothing landed.
func Place[T Interval](items []T, periods []types.Period, value func(T) float64) ([]float64, error) {
	values, _, err := place(items, periods, value)
	return values, err
}

func place[T Interval](items []T, periods []types.Period, value func(T) float64) ([]float64, []bool, error) {
	values := make([]float64, len(periods))
	filled := make([]bool, len(periods))
	for _, item := range items {
		from, to := item.Interval()
		idx := -1
		for i, p := range periods {
			if !p.Start.Equal(from) {
				continue
			}
			if idx >= 0 {
				return nil, nil, &ReadingError{Kind: ErrDuplicateMeterReading, From: from, To: to, Period: &periods[i]}
			}
			idx = i
		}
		if idx < 0 {
			return nil, nil, &ReadingError{Kind: ErrMissingMeterReading, From: from, To: to}
		}
		if !periods[idx].End.Equal(to) {
			return nil, nil, &ReadingError{Kind: ErrMeterReadingTimeMismatch, From: from, To: to, Period: &periods[idx]}
		}
		if filled[idx] {
			return nil, nil, &ReadingError{Kind: ErrDuplicateMeterReading, From: from, To: to, Period: &periods[idx]}
		}
		values[idx] = value(item)
		filled[idx] = true
	}
	return values, filled, nil
}
