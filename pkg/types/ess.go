package types

import (
	"fmt"
	"time"
)

// TelemetrySeries names one meter in an inverter telemetry response.
type TelemetrySeries string

const (
	SeriesPurchased       TelemetrySeries = "Purchased"
	SeriesFeedIn          TelemetrySeries = "FeedIn"
	SeriesProduction      TelemetrySeries = "Production"
	SeriesConsumption     TelemetrySeries = "Consumption"
	SeriesSelfConsumption TelemetrySeries = "SelfConsumption"
)

// SeriesFor returns the telemetry series that estimates the given direction at
// the grid connection.
func SeriesFor(d Direction) TelemetrySeries {
	if d == DirectionExport {
		return SeriesFeedIn
	}
	return SeriesPurchased
}

// Unit is the measurement unit of a telemetry series.
type Unit string

const (
	UnitWh  Unit = "Wh"
	UnitKWh Unit = "kWh"
	UnitW   Unit = "W"
	UnitKW  Unit = "kW"
)

// KWHFactor returns the multiplier converting an energy unit to kWh.
func (u Unit) KWHFactor() (float64, error) {
	switch u {
	case UnitWh:
		return 1.0 / 1000, nil
	case UnitKWh:
		return 1, nil
	}
	return 0, fmt.Errorf("%q is not an energy unit", u)
}

// EnergyDetails is a sampled telemetry response from an inverter. Every series
// has one value per timestamp. Power responses reuse the same shape with a
// power unit.
type EnergyDetails struct {
	TimeUnit   string                        `json:"timeUnit"`
	Unit       Unit                          `json:"unit"`
	Timestamps []time.Time                   `json:"timestamps"`
	Series     map[TelemetrySeries][]float64 `json:"series"`
}

// BatteryHistory is the battery telemetry for a window.
type BatteryHistory struct {
	Timestamps     []time.Time `json:"timestamps"`
	StoredEnergyWh []float64   `json:"storedEnergyWh"`
	// PowerW is positive while charging.
	PowerW           []float64 `json:"powerW"`
	ChargeFromGridWh float64   `json:"chargeFromGridWh"`
}

// StoredEnergyDeltaWh returns the change in stored energy over the window.
func (b BatteryHistory) StoredEnergyDeltaWh() float64 {
	if len(b.StoredEnergyWh) == 0 {
		return 0
	}
	return b.StoredEnergyWh[len(b.StoredEnergyWh)-1] - b.StoredEnergyWh[0]
}
