package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/metrics"
	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/types"
)

// Outcome summarises a reconciled day.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
	// OutcomeMissing means the supplier has not published complete readings
	// for the day, so there is nothing to compare against yet.
	OutcomeMissing Outcome = "missing"
	OutcomeError   Outcome = "error"
)

// EnergyComparison compares the two energy paths for one direction.
type EnergyComparison struct {
	Direction     types.Direction `json:"direction"`
	CalculatedKWH float64         `json:"calculatedKWH"`
	EstimatedKWH  float64         `json:"estimatedKWH"`
	// MaxPeriodDiffKWH is the largest per-period difference.
	MaxPeriodDiffKWH float64 `json:"maxPeriodDiffKWH"`
	TotalOK          bool    `json:"totalOK"`
	PeriodsOK        bool    `json:"periodsOK"`
	Missing          bool    `json:"missing,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// CostComparison compares the two bill paths for one direction.
type CostComparison struct {
	Direction       types.Direction `json:"direction"`
	CalculatedPence float64         `json:"calculatedPence"`
	EstimatedPence  float64         `json:"estimatedPence"`
	OK              bool            `json:"ok"`
	Missing         bool            `json:"missing,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// DayReport is the cross-validation of one day.
type DayReport struct {
	Day     types.Day          `json:"day"`
	Tax     types.TaxMode      `json:"tax"`
	Energy  []EnergyComparison `json:"energy"`
	Cost    []CostComparison   `json:"cost"`
	Outcome Outcome            `json:"outcome"`
}

// Checker cross-validates the calculated and estimated billing paths.
type Checker struct {
	est   *billing.Estimator
	bands Bands
}

// NewChecker returns a Checker over est using bands.
func NewChecker(est *billing.Estimator, bands Bands) *Checker {
	return &Checker{est: est, bands: bands}
}

// Bands returns the tolerances in use.
func (c *Checker) Bands() Bands {
	return c.bands
}

func relative(got, want float64) float64 {
	if want == 0 {
		if got == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(got-want) / math.Abs(want)
}

func (c *Checker) compareEnergy(ctx context.Context, de *billing.DayEstimate, direction types.Direction) EnergyComparison {
	ec := EnergyComparison{Direction: direction}
	totalTol, periodTol := c.bands.forDirection(direction)

	calculated, err := de.Calculated(ctx, direction)
	if err != nil {
		ec.Missing = errors.Is(err, billing.ErrMissingMeterReading)
		ec.Error = err.Error()
		return ec
	}
	estimated, err := de.Estimated(ctx, direction)
	if err != nil {
		ec.Error = err.Error()
		return ec
	}
	estimatedTotal, err := de.EstimatedTotal(ctx, direction)
	if err != nil {
		ec.Error = err.Error()
		return ec
	}

	ec.CalculatedKWH = series.Sum(calculated)
	ec.EstimatedKWH = estimatedTotal
	ec.TotalOK = totalTol.Close(ec.EstimatedKWH, ec.CalculatedKWH)
	ec.PeriodsOK, ec.MaxPeriodDiffKWH, err = periodTol.AllClose(estimated, calculated)
	if err != nil {
		ec.Error = err.Error()
		return ec
	}
	metrics.SetDiscrepancy(string(direction), "energy", relative(ec.EstimatedKWH, ec.CalculatedKWH))
	return ec
}

func (c *Checker) compareCost(ctx context.Context, de *billing.DayEstimate, direction types.Direction, tax types.TaxMode) CostComparison {
	cc := CostComparison{Direction: direction}
	calculated, err := de.Total(ctx, direction, types.PathCalculated, tax)
	if err != nil {
		cc.Missing = errors.Is(err, billing.ErrMissingMeterReading)
		cc.Error = err.Error()
		return cc
	}
	estimated, err := de.Total(ctx, direction, types.PathEstimated, tax)
	if err != nil {
		cc.Error = err.Error()
		return cc
	}
	cc.CalculatedPence = calculated
	cc.EstimatedPence = estimated
	cc.OK = c.bands.Bill.Close(estimated, calculated)
	metrics.SetDiscrepancy(string(direction), "cost", relative(estimated, calculated))
	return cc
}

// CompareDay cross-validates every direction of day. Missing meter readings
// are reported rather than returned as an error since suppliers publish
// readings a day or more late.
func (c *Checker) CompareDay(ctx context.Context, day types.Day, tax types.TaxMode) (DayReport, error) {
	if _, err := types.ParseTaxMode(string(tax)); err != nil {
		return DayReport{}, err
	}
	if err := c.est.Prefetch(ctx, day); err != nil {
		log.Ctx(ctx).DebugContext(ctx, "prefetch incomplete", slog.String("day", day.String()), slog.Any("error", err))
	}
	de := c.est.Day(day)

	report := DayReport{Day: day, Tax: tax, Outcome: OutcomePass}
	for _, d := range []types.Direction{types.DirectionConsumption, types.DirectionExport} {
		ec := c.compareEnergy(ctx, de, d)
		report.Energy = append(report.Energy, ec)
		cc := c.compareCost(ctx, de, d, tax)
		report.Cost = append(report.Cost, cc)

		switch {
		case ec.Missing || cc.Missing:
			if report.Outcome == OutcomePass {
				report.Outcome = OutcomeMissing
			}
		case ec.Error != "" || cc.Error != "":
			report.Outcome = OutcomeError
		case !ec.TotalOK || !ec.PeriodsOK || !cc.OK:
			if report.Outcome != OutcomeError {
				report.Outcome = OutcomeFail
			}
		}
	}
	metrics.IncReconcileDay(string(report.Outcome))
	log.Ctx(ctx).InfoContext(ctx, "reconciled day", slog.String("day", day.String()), slog.String("outcome", string(report.Outcome)))
	return report, nil
}

// String renders the report as one line per direction.
func (r DayReport) String() string {
	s := fmt.Sprintf("%s %s %s", r.Day, r.Tax, r.Outcome)
	for i, e := range r.Energy {
		s += fmt.Sprintf("\n  %-11s energy calc=%.2fkWh est=%.2fkWh maxPeriodDiff=%.2fkWh", e.Direction, e.CalculatedKWH, e.EstimatedKWH, e.MaxPeriodDiffKWH)
		if e.Error != "" {
			s += " (" + e.Error + ")"
		}
		if i < len(r.Cost) {
			cc := r.Cost[i]
			s += fmt.Sprintf("\n  %-11s cost   calc=%.2fp est=%.2fp", cc.Direction, cc.CalculatedPence, cc.EstimatedPence)
		}
	}
	return s
}
