package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/types"
)

// Database persists settled upstream data so past days can be recomputed
// without calling the supplier or inverter APIs again.
type Database interface {
	// Meter readings
	UpsertMeterReadings(ctx context.Context, meter types.MeterPoint, readings []types.MeterReading) error
	GetMeterReadings(ctx context.Context, meter types.MeterPoint, start, end time.Time) ([]types.MeterReading, error)

	// Tariff rates
	UpsertRates(ctx context.Context, direction types.Direction, rates []types.Rate) error
	GetRates(ctx context.Context, direction types.Direction, start, end time.Time) ([]types.Rate, error)

	// Telemetry, stored per requested window. The bool is false when nothing
	// was stored for exactly [start, end).
	UpsertEnergyDetails(ctx context.Context, start, end time.Time, details types.EnergyDetails) error
	GetEnergyDetails(ctx context.Context, start, end time.Time) (types.EnergyDetails, bool, error)
	UpsertBatteryHistory(ctx context.Context, start, end time.Time, history types.BatteryHistory) error
	GetBatteryHistory(ctx context.Context, start, end time.Time) (types.BatteryHistory, bool, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags. The "none"
// provider disables persistence and returns a nil Database once flags are
// parsed.
func Configured() *Holder {
	provider := lflag.String("storage-provider", "none", "Storage provider to use (available: firestore, none)")

	var h Holder
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			h.Database = fs
		case "none", "":
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &h
}

// Holder carries the configured Database, which is nil when persistence is
// disabled.
type Holder struct {
	Database Database
}
