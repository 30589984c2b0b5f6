package ess

import (
	"context"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// System defines the interface for reading telemetry from a site's inverter
// or energy storage system.
type System interface {
	// GetEnergyDetails returns the energy per sample measured by the
	// system's meters within [from, to).
	GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error)

	// Validate ensures the configuration is usable.
	Validate() error
}

// PowerSystem is implemented by systems that also report instantaneous
// power.
type PowerSystem interface {
	System

	// GetPowerDetails returns power samples within [from, to). Missing
	// samples are NaN.
	GetPowerDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error)
}

// BatterySystem is implemented by systems with a battery.
type BatterySystem interface {
	System

	// GetBatteryHistory returns the battery telemetry within [from, to).
	GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error)
}
