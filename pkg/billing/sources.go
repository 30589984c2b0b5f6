package billing

import (
	"context"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// MeterSource provides the supplier's authoritative half-hourly readings.
type MeterSource interface {
	// MeterPoint returns the meter that measures direction.
	MeterPoint(direction types.Direction) (types.MeterPoint, error)

	// GetMeterReadings returns the readings of meter within [from, to).
	GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error)
}

// RateSource provides tariff unit rates.
type RateSource interface {
	// GetRates returns the rates for direction that are valid at any point in
	// [from, to).
	GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error)
}

// TelemetrySource provides the site's own energy telemetry.
type TelemetrySource interface {
	// GetEnergyDetails returns energy per sample for [from, to).
	GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error)
}

// BatterySource provides battery telemetry. It is only needed when battery
// correction is enabled.
type BatterySource interface {
	GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error)
}

// Sources bundles the collaborators an Estimator reads from.
type Sources struct {
	Meters    MeterSource
	Rates     RateSource
	Telemetry TelemetrySource
	Battery   BatterySource
}
