package utility

import (
	"context"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// Provider defines the interface for a supplier that publishes settled meter
// readings and tariff rates.
type Provider interface {
	// MeterPoint returns the meter that measures direction.
	MeterPoint(direction types.Direction) (types.MeterPoint, error)

	// GetMeterReadings returns the half-hourly readings of meter within
	// [from, to).
	GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error)

	// GetRates returns the unit rates for direction valid at any point in
	// [from, to).
	GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error)

	// Validate ensures the configuration is usable.
	Validate() error
}
