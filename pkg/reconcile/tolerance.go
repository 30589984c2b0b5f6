package reconcile

import (
	"math"

	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/types"
)

// Tolerance accepts a value when |got - want| <= Abs + Rel*|want|.
type Tolerance struct {
	Abs float64 `yaml:"abs" json:"abs"`
	Rel float64 `yaml:"rel" json:"rel"`
}

// Close reports whether got is within the tolerance of want. NaN is never
// close.
func (t Tolerance) Close(got, want float64) bool {
	if math.IsNaN(got) || math.IsNaN(want) {
		return false
	}
	return math.Abs(got-want) <= t.Abs+t.Rel*math.Abs(want)
}

// AllClose reports whether every element of got is close to want and returns
// the largest absolute difference.
func (t Tolerance) AllClose(got, want []float64) (bool, float64, error) {
	diff, err := series.Subtract(got, want)
	if err != nil {
		return false, 0, err
	}
	ok := true
	var worst float64
	for i, d := range diff {
		worst = max(worst, math.Abs(d))
		if !t.Close(got[i], want[i]) {
			ok = false
		}
	}
	return ok, worst, nil
}

// Bands are the tolerances a day must meet for the telemetry estimate to be
// considered consistent with the supplier's figures.
type Bands struct {
	ConsumptionTotal  Tolerance `yaml:"consumptionTotal"`
	ConsumptionPeriod Tolerance `yaml:"consumptionPeriod"`
	ExportTotal       Tolerance `yaml:"exportTotal"`
	ExportPeriod      Tolerance `yaml:"exportPeriod"`
	Bill              Tolerance `yaml:"bill"`

	// invoice checks
	InvoiceKWH            Tolerance `yaml:"invoiceKWH"`
	InvoicePence          Tolerance `yaml:"invoicePence"`
	InvoiceEstimatedKWH   Tolerance `yaml:"invoiceEstimatedKWH"`
	InvoiceEstimatedPence Tolerance `yaml:"invoiceEstimatedPence"`
}

// DefaultBands returns the tolerances the estimator is held to. Energy is in
// kWh and money in pence.
func DefaultBands() Bands {
	return Bands{
		ConsumptionTotal:  Tolerance{Abs: 0.2, Rel: 0.01},
		ConsumptionPeriod: Tolerance{Abs: 0.75},
		ExportTotal:       Tolerance{Abs: 0.35, Rel: 0.01},
		ExportPeriod:      Tolerance{Abs: 0.3},
		Bill:              Tolerance{Abs: 2, Rel: 0.03},

		// invoices round each period, so allow a penny either way
		InvoiceKWH:            Tolerance{Abs: 0.05},
		InvoicePence:          Tolerance{Abs: 2},
		InvoiceEstimatedKWH:   Tolerance{Abs: 0.1, Rel: 0.05},
		InvoiceEstimatedPence: Tolerance{Abs: 11},
	}
}

func (b Bands) forDirection(direction types.Direction) (total, period Tolerance) {
	if direction == types.DirectionExport {
		return b.ExportTotal, b.ExportPeriod
	}
	return b.ConsumptionTotal, b.ConsumptionPeriod
}
