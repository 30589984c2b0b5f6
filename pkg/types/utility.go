package types

import (
	"fmt"
	"time"
)

// Direction is the flow of energy across the meter.
type Direction string

const (
	DirectionConsumption Direction = "consumption"
	DirectionExport      Direction = "export"
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionConsumption, DirectionExport:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction: %q", s)
}

// TaxMode selects whether prices include VAT.
type TaxMode string

const (
	TaxInclusive TaxMode = "inc_vat"
	TaxExclusive TaxMode = "exc_vat"
)

// ParseTaxMode validates a tax mode name.
func ParseTaxMode(s string) (TaxMode, error) {
	switch m := TaxMode(s); m {
	case TaxInclusive, TaxExclusive:
		return m, nil
	}
	return "", fmt.Errorf("unknown tax mode: %q", s)
}

// MeterPoint identifies one electricity meter at the supplier.
type MeterPoint struct {
	MPAN         string `json:"mpan"`
	SerialNumber string `json:"serialNumber"`
}

// IsZero reports whether the meter point is unset.
func (m MeterPoint) IsZero() bool {
	return m.MPAN == "" && m.SerialNumber == ""
}

func (m MeterPoint) String() string {
	return m.MPAN + "/" + m.SerialNumber
}

// Tariff names the supplier product and tariff a meter point is billed on.
type Tariff struct {
	ProductCode string `json:"productCode"`
	TariffCode  string `json:"tariffCode"`
}

// MeterReading is an authoritative interval reading from the supplier's smart
// meter data.
type MeterReading struct {
	From time.Time `json:"tsStart"`
	To   time.Time `json:"tsEnd"`
	KWH  float64   `json:"kwh"`
}

// Interval returns the reading's validity interval.
func (r MeterReading) Interval() (time.Time, time.Time) {
	return r.From, r.To
}

// Rate is a unit price valid over [ValidFrom, ValidTo). A zero ValidTo means
// the rate has no announced end.
type Rate struct {
	ValidFrom   time.Time `json:"tsStart"`
	ValidTo     time.Time `json:"tsEnd"`
	PenceIncVAT float64   `json:"penceIncVAT"`
	PenceExcVAT float64   `json:"penceExcVAT"`
}

// Interval returns the rate's validity interval.
func (r Rate) Interval() (time.Time, time.Time) {
	return r.ValidFrom, r.ValidTo
}

// Price returns the pence per kWh for the given tax mode.
func (r Rate) Price(tax TaxMode) float64 {
	if tax == TaxExclusive {
		return r.PenceExcVAT
	}
	return r.PenceIncVAT
}
