// Package series maps irregular time series onto reference instants and
// billing periods.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

var (
	// ErrSizeMismatch is returned when paired slices differ in length.
	ErrSizeMismatch = errors.New("series size mismatch")
	// ErrUnorderedReference is returned when reference instants are not
	// strictly increasing.
	ErrUnorderedReference = errors.New("reference instants must be strictly increasing")
)

// Mode decides which reference instant a sample is assigned to.
type Mode int

const (
	// ModePreceding assigns a sample to the nearest reference instant after
	// it. A sample exactly on a reference instant belongs to the next one.
	ModePreceding Mode = iota
	// ModeFollowing assigns a sample to the nearest reference instant at or
	// before it.
	ModeFollowing
	// ModeMidpoint assigns a sample to the closest reference instant, with
	// ties at a midpoint going to the later instant.
	ModeMidpoint
)

func (m Mode) String() string {
	switch m {
	case ModePreceding:
		return "preceding"
	case ModeFollowing:
		return "following"
	case ModeMidpoint:
		return "midpoint"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModePreceding, ModeFollowing, ModeMidpoint} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown alignment mode: %q", s)
}

// Aggregation combines the samples that land in one bin.
type Aggregation int

const (
	// AggregateMean averages samples. Empty bins are NaN.
	AggregateMean Aggregation = iota
	// AggregateSum adds samples. Empty bins are 0.
	AggregateSum
)

// Normalise resamples values onto ref by averaging the samples assigned to each
// reference instant. Reference instants that receive no samples are NaN.
func Normalise(ref, ts []time.Time, values []float64, mode Mode) ([]float64, error) {
	return Align(ref, ts, values, mode, AggregateMean)
}

// Align assigns every sample to one reference instant according to mode and
// combines each bin with agg. Bins are closed on the left and open on the
// right; the first and last bins extend without bound. The result has one
// value per reference instant.
func Align(ref, ts []time.Time, values []float64, mode Mode, agg Aggregation) ([]float64, error) {
	if len(ts) != len(values) {
		return nil, fmt.Errorf("%w: %d timestamps, %d values", ErrSizeMismatch, len(ts), len(values))
	}
	for i := 1; i < len(ref); i++ {
		if !ref[i].After(ref[i-1]) {
			return nil, fmt.Errorf("%w: index %d", ErrUnorderedReference, i)
		}
	}
	if len(ref) == 0 {
		return []float64{}, nil
	}

	edges := binEdges(ref, mode)
	sums := make([]float64, len(ref))
	counts := make([]int, len(ref))
	for i, t := range ts {
		// number of edges at or before t
		bin := sort.Search(len(edges), func(j int) bool { return edges[j].After(t) })
		sums[bin] += values[i]
		counts[bin]++
	}

	if agg == AggregateSum {
		return sums, nil
	}
	out := make([]float64, len(ref))
	for i := range out {
		if counts[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sums[i] / float64(counts[i])
	}
	return out, nil
}

// binEdges returns the len(ref)-1 interior boundaries between bins.
func binEdges(ref []time.Time, mode Mode) []time.Time {
	n := len(ref) - 1
	edges := make([]time.Time, n)
	for k := 0; k < n; k++ {
		switch mode {
		case ModePreceding:
			edges[k] = ref[k]
		case ModeFollowing:
			edges[k] = ref[k+1]
		default:
			edges[k] = ref[k].Add(ref[k+1].Sub(ref[k]) / 2)
		}
	}
	return edges
}

// Accumulate sums samples into the period they fall in. Samples outside every
// period are ignored and periods without samples are 0.
func Accumulate(periods []types.Period, ts []time.Time, values []float64) ([]float64, error) {
	if len(ts) != len(values) {
		return nil, fmt.Errorf("%w: %d timestamps, %d values", ErrSizeMismatch, len(ts), len(values))
	}
	out := make([]float64, len(periods))
	for i, t := range ts {
		// periods are contiguous and ordered so the first one ending after t
		// is the only candidate
		k := sort.Search(len(periods), func(j int) bool { return periods[j].End.After(t) })
		if k < len(periods) && periods[k].Contains(t) {
			out[k] += values[i]
		}
	}
	return out, nil
}
