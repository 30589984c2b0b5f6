package types

import "fmt"

// Path identifies how a day's energy figures were obtained.
type Path string

const (
	// PathCalculated uses the supplier's authoritative meter readings.
	PathCalculated Path = "calculated"
	// PathEstimated uses the site's own inverter telemetry.
	PathEstimated Path = "estimated"
)

// ParsePath validates a path name.
func ParsePath(s string) (Path, error) {
	switch p := Path(s); p {
	case PathCalculated, PathEstimated:
		return p, nil
	}
	return "", fmt.Errorf("unknown path: %q", s)
}

// DayBill is the itemised cost or credit of one direction for one day.
type DayBill struct {
	Day        Day       `json:"day"`
	Direction  Direction `json:"direction"`
	Path       Path      `json:"path"`
	Tax        TaxMode   `json:"tax"`
	Periods    []Period  `json:"periods"`
	KWH        []float64 `json:"kwh"`
	Rates      []float64 `json:"rates"`
	Itemised   []float64 `json:"itemised"`
	TotalPence float64   `json:"totalPence"`
}
