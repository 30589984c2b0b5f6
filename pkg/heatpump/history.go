// Package heatpump reads historic power from an Ecoforest heat pump.
package heatpump

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

const (
	// columns are counted after the serial and timestamp fields
	electricalColumn = 24
	heatingColumn    = 25

	// SampleInterval is the cadence of the historic file.
	SampleInterval = 5 * time.Minute
)

var timestampLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
}

// ErrMalformedHistory is returned when a historic file cannot be parsed.
var ErrMalformedHistory = errors.New("malformed heat pump history")

// History is the power drawn and delivered by the heat pump.
type History struct {
	Timestamps   []time.Time `json:"timestamps"`
	ElectricalKW []float64   `json:"electricalKW"`
	HeatingKW    []float64   `json:"heatingKW"`
}

func parseTimestamp(s string, day types.Day, loc *time.Location) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	// some firmware only writes the time of day
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(day.Year, day.Month, day.Day, t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unknown timestamp %q", ErrMalformedHistory, s)
}

// ParseHistory parses a day's historic CSV. The first line is a header and
// every row is the serial, a timestamp and the register values, each
// terminated by a semicolon. Power registers are in tenths of a kW.
func ParseHistory(r io.Reader, day types.Day, loc *time.Location) (History, error) {
	var h History
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if line == 1 || text == "" {
			continue
		}
		fields := strings.Split(text, ";")
		// the trailing separator leaves an empty last field
		if len(fields) > 0 && fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
		if len(fields) < 2+heatingColumn+1 {
			return History{}, fmt.Errorf("%w: line %d has %d fields", ErrMalformedHistory, line, len(fields))
		}
		ts, err := parseTimestamp(strings.TrimSpace(fields[1]), day, loc)
		if err != nil {
			return History{}, fmt.Errorf("line %d: %w", line, err)
		}
		entries := fields[2:]
		electrical, err := strconv.ParseFloat(strings.TrimSpace(entries[electricalColumn]), 64)
		if err != nil {
			return History{}, fmt.Errorf("%w: line %d electrical power: %v", ErrMalformedHistory, line, err)
		}
		heating, err := strconv.ParseFloat(strings.TrimSpace(entries[heatingColumn]), 64)
		if err != nil {
			return History{}, fmt.Errorf("%w: line %d heating power: %v", ErrMalformedHistory, line, err)
		}
		h.Timestamps = append(h.Timestamps, ts)
		h.ElectricalKW = append(h.ElectricalKW, electrical/10)
		h.HeatingKW = append(h.HeatingKW, heating/10)
	}
	if err := sc.Err(); err != nil {
		return History{}, err
	}
	return h, nil
}

func energyKWH(kw []float64) float64 {
	var sum float64
	for _, v := range kw {
		sum += v
	}
	return sum * SampleInterval.Hours()
}

// ElectricalKWH is the electricity used over the history.
func (h History) ElectricalKWH() float64 {
	return energyKWH(h.ElectricalKW)
}

// HeatingKWH is the heat delivered over the history.
func (h History) HeatingKWH() float64 {
	return energyKWH(h.HeatingKW)
}

// COP returns the mean coefficient of performance of the samples where the
// heat pump was drawing power. It is NaN when it never ran.
func (h History) COP() float64 {
	var sum float64
	var n int
	for i, e := range h.ElectricalKW {
		cop := h.HeatingKW[i] / e
		if math.IsNaN(cop) || math.IsInf(cop, 0) {
			continue
		}
		sum += cop
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Window returns the samples within [from, to).
func (h History) Window(from, to time.Time) History {
	var out History
	for i, t := range h.Timestamps {
		if t.Before(from) || !t.Before(to) {
			continue
		}
		out.Timestamps = append(out.Timestamps, t)
		out.ElectricalKW = append(out.ElectricalKW, h.ElectricalKW[i])
		out.HeatingKW = append(out.HeatingKW, h.HeatingKW[i])
	}
	return out
}

func (h *History) append(o History) {
	h.Timestamps = append(h.Timestamps, o.Timestamps...)
	h.ElectricalKW = append(h.ElectricalKW, o.ElectricalKW...)
	h.HeatingKW = append(h.HeatingKW, o.HeatingKW...)
}
