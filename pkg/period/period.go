package period

import (
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/types"
)

// DefaultLength is the settlement period length used by UK suppliers.
const DefaultLength = 30 * time.Minute

// ErrInvalidLength is returned when a period length does not evenly divide a day.
var ErrInvalidLength = errors.New("period length must evenly divide 24h")

// Grid partitions days into fixed-length billing periods anchored at local
// midnight.
type Grid struct {
	length time.Duration
	loc    *time.Location
}

// NewGrid returns a Grid with the given period length in loc.
func NewGrid(length time.Duration, loc *time.Location) (*Grid, error) {
	if length <= 0 || (24*time.Hour)%length != 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLength, length)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Grid{length: length, loc: loc}, nil
}

// Configured registers the grid flags and returns a Grid populated once flags
// are parsed.
func Configured() *Grid {
	length := lflag.Duration("period-length", DefaultLength, "Billing period length, must evenly divide 24h")
	timezone := lflag.String("timezone", "Europe/London", "Timezone that billing days are anchored in")

	g := &Grid{}
	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid timezone %q: %v", *timezone, err))
		}
		ng, err := NewGrid(*length, loc)
		if err != nil {
			panic(err.Error())
		}
		*g = *ng
	})
	return g
}

// Length returns the period length.
func (g *Grid) Length() time.Duration {
	return g.length
}

// Location returns the location days are anchored in.
func (g *Grid) Location() *time.Location {
	return g.loc
}

// DayBounds returns local midnight of day and of the following day.
func (g *Grid) DayBounds(day types.Day) (time.Time, time.Time) {
	return day.Midnight(g.loc), day.AddDays(1).Midnight(g.loc)
}

// PeriodsForDay returns the contiguous billing periods covering day. The
// first period starts at local midnight and the last one ends at the next
// local midnight. Days that are not 24h long (DST transitions) get fewer or
// more periods, and the last one is cut short at midnight if needed.
func (g *Grid) PeriodsForDay(day types.Day) []types.Period {
	start, end := g.DayBounds(day)
	periods := make([]types.Period, 0, int(end.Sub(start)/g.length)+1)
	for t := start; t.Before(end); t = t.Add(g.length) {
		pEnd := t.Add(g.length)
		if pEnd.After(end) {
			pEnd = end
		}
		periods = append(periods, types.Period{Start: t, End: pEnd})
	}
	return periods
}

// Split returns the grid periods fully contained in [from, to). Boundaries are
// measured from local midnight of from's day, so a from that is not on a
// period boundary starts at the next one.
func (g *Grid) Split(from, to time.Time) []types.Period {
	if !from.Before(to) {
		return nil
	}
	midnight := types.DayOf(from.In(g.loc)).Midnight(g.loc)
	offset := from.Sub(midnight)
	t := midnight.Add(offset / g.length * g.length)
	if t.Before(from) {
		t = t.Add(g.length)
	}
	var periods []types.Period
	for ; !t.Add(g.length).After(to); t = t.Add(g.length) {
		periods = append(periods, types.Period{Start: t, End: t.Add(g.length)})
	}
	return periods
}

// Starts returns the start instants of periods.
func Starts(periods []types.Period) []time.Time {
	starts := make([]time.Time, len(periods))
	for i, p := range periods {
		starts[i] = p.Start
	}
	return starts
}
