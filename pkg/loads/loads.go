// Package loads splits the site's measured load into known appliances and the
// remaining household load.
package loads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raterudder/energyhub/pkg/heatpump"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/types"
)

// SubLoad is one appliance's power samples in W.
type SubLoad struct {
	Name       string
	Timestamps []time.Time
	PowerW     []float64
}

// Breakdown is the site load and its parts on the inverter's timestamps.
type Breakdown struct {
	Timestamps []time.Time          `json:"timestamps"`
	LoadW      []float64            `json:"loadW"`
	SubLoadsW  map[string][]float64 `json:"subLoadsW"`
	HouseholdW []float64            `json:"householdW"`
}

// Split aligns every sub-load onto ref and subtracts them from loadW. A
// reference instant no sub-load sample was assigned to counts as 0 W for that
// sub-load.
func Split(ref []time.Time, loadW []float64, subs []SubLoad, mode series.Mode) (Breakdown, error) {
	if len(ref) != len(loadW) {
		return Breakdown{}, fmt.Errorf("%w: %d timestamps, %d load values", series.ErrSizeMismatch, len(ref), len(loadW))
	}
	b := Breakdown{
		Timestamps: ref,
		LoadW:      loadW,
		SubLoadsW:  make(map[string][]float64, len(subs)),
		HouseholdW: append([]float64(nil), loadW...),
	}
	for _, sub := range subs {
		if _, ok := b.SubLoadsW[sub.Name]; ok {
			return Breakdown{}, fmt.Errorf("duplicate sub-load %q", sub.Name)
		}
		var aligned []float64
		if len(sub.Timestamps) == 0 {
			aligned = make([]float64, len(ref))
		} else {
			var err error
			aligned, err = series.Normalise(ref, sub.Timestamps, sub.PowerW, mode)
			if err != nil {
				return Breakdown{}, fmt.Errorf("aligning %s: %w", sub.Name, err)
			}
			for i, v := range aligned {
				if math.IsNaN(v) {
					aligned[i] = 0
				}
			}
		}
		b.SubLoadsW[sub.Name] = aligned
		for i, v := range aligned {
			b.HouseholdW[i] -= v
		}
	}
	return b, nil
}

// PowerSource reports instantaneous site power.
type PowerSource interface {
	GetPowerDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error)
}

// BatterySource reports battery telemetry.
type BatterySource interface {
	GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error)
}

// HeatPumpSource reports heat pump power.
type HeatPumpSource interface {
	GetHistory(ctx context.Context, from, to time.Time) (heatpump.History, error)
}

// Breaker builds load breakdowns from the configured sources. Battery and
// HeatPump are optional.
type Breaker struct {
	Power    PowerSource
	Battery  BatterySource
	HeatPump HeatPumpSource
	// Mode aligns sub-load samples onto the inverter timestamps.
	// series.ModeFollowing assigns each sample to the timestamp at or before
	// it, which is how the desktop history panel lined its loads up.
	Mode series.Mode
}

// gridCharging returns the battery charge power that came from the grid,
// approximated as charge power capped by the grid import at that instant.
func gridCharging(h types.BatteryHistory, ref []time.Time, purchasedW []float64, mode series.Mode) (SubLoad, error) {
	charge := make([]float64, len(h.PowerW))
	for i, p := range h.PowerW {
		charge[i] = max(p, 0)
	}
	aligned, err := series.Normalise(ref, h.Timestamps, charge, mode)
	if err != nil {
		return SubLoad{}, err
	}
	for i, v := range aligned {
		if math.IsNaN(v) {
			v = 0
		}
		if i < len(purchasedW) && !math.IsNaN(purchasedW[i]) {
			v = min(v, purchasedW[i])
		}
		aligned[i] = v
	}
	return SubLoad{Name: "battery_grid_charging", Timestamps: ref, PowerW: aligned}, nil
}

// Breakdown returns the load breakdown within [from, to).
func (b *Breaker) Breakdown(ctx context.Context, from, to time.Time) (Breakdown, error) {
	if b.Power == nil {
		return Breakdown{}, errors.New("no power source configured")
	}
	power, err := b.Power.GetPowerDetails(ctx, from, to)
	if err != nil {
		return Breakdown{}, fmt.Errorf("failed to get power details: %w", err)
	}
	factor := 1.0
	if power.Unit == types.UnitKW {
		factor = 1000
	}
	loadW, ok := power.Series[types.SeriesConsumption]
	if !ok {
		return Breakdown{}, fmt.Errorf("power details have no %s series", types.SeriesConsumption)
	}
	loadW = series.Scale(loadW, factor)
	purchasedW := series.Scale(power.Series[types.SeriesPurchased], factor)

	var subs []SubLoad
	if b.HeatPump != nil {
		h, err := b.HeatPump.GetHistory(ctx, from, to)
		if err != nil {
			return Breakdown{}, fmt.Errorf("failed to get heat pump history: %w", err)
		}
		subs = append(subs, SubLoad{Name: "heat_pump", Timestamps: h.Timestamps, PowerW: series.Scale(h.ElectricalKW, 1000)})
	}
	if b.Battery != nil {
		h, err := b.Battery.GetBatteryHistory(ctx, from, to)
		if err != nil {
			return Breakdown{}, fmt.Errorf("failed to get battery history: %w", err)
		}
		if len(h.Timestamps) > 0 {
			sub, err := gridCharging(h, power.Timestamps, purchasedW, b.Mode)
			if err != nil {
				return Breakdown{}, fmt.Errorf("aligning battery: %w", err)
			}
			subs = append(subs, sub)
		}
	}

	bd, err := Split(power.Timestamps, loadW, subs, b.Mode)
	if err != nil {
		return Breakdown{}, err
	}
	log.Ctx(ctx).DebugContext(ctx, "built load breakdown", slog.Int("samples", len(bd.Timestamps)), slog.Int("subLoads", len(subs)))
	return bd, nil
}
