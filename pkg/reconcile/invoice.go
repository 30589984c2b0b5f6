package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Invoice is a set of daily import charges copied from supplier statements.
type Invoice struct {
	Tax  types.TaxMode
	Days []InvoiceDay
}

// InvoiceDay is one billed day. Amount is in pounds.
type InvoiceDay struct {
	Day    types.Day
	KWH    decimal.Decimal
	Amount decimal.Decimal
}

// Pence returns the billed amount in pence.
func (d InvoiceDay) Pence() float64 {
	return d.Amount.Shift(2).InexactFloat64()
}

type invoiceFile struct {
	Tax  string `yaml:"tax"`
	Days []struct {
		Day    string `yaml:"day"`
		KWH    string `yaml:"kwh"`
		Amount string `yaml:"amount"`
	} `yaml:"days"`
}

// ParseInvoice reads an invoice from YAML. Quantities are parsed as decimals
// so statement figures are not rounded on the way in. The tax mode defaults
// to exc_vat.
func ParseInvoice(r io.Reader) (Invoice, error) {
	var f invoiceFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Invoice{}, errors.New("empty invoice")
		}
		return Invoice{}, fmt.Errorf("failed to decode invoice: %w", err)
	}

	inv := Invoice{Tax: types.TaxExclusive}
	if f.Tax != "" {
		tax, err := types.ParseTaxMode(f.Tax)
		if err != nil {
			return Invoice{}, err
		}
		inv.Tax = tax
	}
	for i, d := range f.Days {
		day, err := types.ParseDay(d.Day)
		if err != nil {
			return Invoice{}, fmt.Errorf("invoice day %d: %w", i, err)
		}
		kwh, err := decimal.NewFromString(d.KWH)
		if err != nil {
			return Invoice{}, fmt.Errorf("invoice day %s kwh: %w", day, err)
		}
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return Invoice{}, fmt.Errorf("invoice day %s amount: %w", day, err)
		}
		inv.Days = append(inv.Days, InvoiceDay{Day: day, KWH: kwh, Amount: amount})
	}
	return inv, nil
}

// LoadInvoice reads an invoice YAML file.
func LoadInvoice(path string) (Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return Invoice{}, err
	}
	defer f.Close()
	return ParseInvoice(f)
}

// InvoiceResult compares one invoiced day with both billing paths.
type InvoiceResult struct {
	Day             types.Day `json:"day"`
	InvoiceKWH      float64   `json:"invoiceKWH"`
	InvoicePence    float64   `json:"invoicePence"`
	CalculatedKWH   float64   `json:"calculatedKWH"`
	CalculatedPence float64   `json:"calculatedPence"`
	EstimatedKWH    float64   `json:"estimatedKWH"`
	EstimatedPence  float64   `json:"estimatedPence"`
	CalculatedOK    bool      `json:"calculatedOK"`
	EstimatedOK     bool      `json:"estimatedOK"`
	Error           string    `json:"error,omitempty"`
}

// OK reports whether both paths match the invoice.
func (r InvoiceResult) OK() bool {
	return r.Error == "" && r.CalculatedOK && r.EstimatedOK
}

func (c *Checker) checkInvoiceDay(ctx context.Context, line InvoiceDay, tax types.TaxMode) (InvoiceResult, error) {
	res := InvoiceResult{
		Day:          line.Day,
		InvoiceKWH:   line.KWH.InexactFloat64(),
		InvoicePence: line.Pence(),
	}
	de := c.est.Day(line.Day)

	// each path is compared with the invoice on its own
	calcErr := func() error {
		consumption, err := de.Calculated(ctx, types.DirectionConsumption)
		if err != nil {
			return err
		}
		res.CalculatedKWH = series.Sum(consumption)
		if res.CalculatedPence, err = de.Total(ctx, types.DirectionConsumption, types.PathCalculated, tax); err != nil {
			return err
		}
		res.CalculatedOK = c.bands.InvoiceKWH.Close(res.CalculatedKWH, res.InvoiceKWH) &&
			c.bands.InvoicePence.Close(res.CalculatedPence, res.InvoicePence)
		return nil
	}()
	estErr := func() error {
		var err error
		if res.EstimatedKWH, err = de.EstimatedTotal(ctx, types.DirectionConsumption); err != nil {
			return err
		}
		if res.EstimatedPence, err = de.Total(ctx, types.DirectionConsumption, types.PathEstimated, tax); err != nil {
			return err
		}
		res.EstimatedOK = c.bands.InvoiceEstimatedKWH.Close(res.EstimatedKWH, res.InvoiceKWH) &&
			c.bands.InvoiceEstimatedPence.Close(res.EstimatedPence, res.InvoicePence)
		return nil
	}()
	if calcErr != nil {
		calcErr = fmt.Errorf("calculated: %w", calcErr)
	}
	if estErr != nil {
		estErr = fmt.Errorf("estimated: %w", estErr)
	}
	return res, errors.Join(calcErr, estErr)
}

// CheckInvoice compares every invoiced day with the billing paths. Days that
// cannot be computed carry their error in the result.
func (c *Checker) CheckInvoice(ctx context.Context, inv Invoice) []InvoiceResult {
	results := make([]InvoiceResult, 0, len(inv.Days))
	for _, line := range inv.Days {
		res, err := c.checkInvoiceDay(ctx, line, inv.Tax)
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}
