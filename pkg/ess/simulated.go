package ess

import (
	"context"
	"math"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

// Simulated is a deterministic home with solar and a battery. It is used for
// local development and to seed test data. Every local day starts with the
// battery half full.
type Simulated struct {
	loc *time.Location

	// GridCharge charges the battery from the grid between 00:30 and 04:30.
	GridCharge bool

	CapacityKWH  float64
	MaxRateKW    float64
	MinSOC       float64
	PeakSolarKW  float64
	sampleLength time.Duration
}

// NewSimulated returns a Simulated system whose days are local to loc.
func NewSimulated(loc *time.Location) *Simulated {
	if loc == nil {
		loc = time.UTC
	}
	return &Simulated{
		loc:          loc,
		GridCharge:   true,
		CapacityKWH:  10,
		MaxRateKW:    5,
		MinSOC:       10,
		PeakSolarKW:  3,
		sampleLength: 15 * time.Minute,
	}
}

// Validate implements System.
func (s *Simulated) Validate() error {
	return nil
}

const simulatedInterval = 5 * time.Minute

type simulatedStep struct {
	ts        time.Time
	homeKW    float64
	solarKW   float64
	batteryKW float64 // negative while charging
	gridKW    float64 // negative while exporting
	soc       float64
	// energy taken from the grid to charge the battery
	gridChargeKWH float64
}

// simulate steps through [from, to). Each local day is simulated from its
// midnight so results do not depend on where the window starts.
func (s *Simulated) simulate(from, to time.Time) []simulatedStep {
	start := from.In(s.loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)

	var steps []simulatedStep
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		soc := 50.0
		for t := day; t.Before(next) && t.Before(to); t = t.Add(simulatedInterval) {
			local := t.In(s.loc)
			mid := local.Add(simulatedInterval / 2)
			hour := float64(mid.Hour()) + float64(mid.Minute())/60.0
			hours := simulatedInterval.Hours()

			// predictable home load 1.5 - 2.5 kW on a sine wave that peaks every 2 hours
			homeKW := max(1.5+0.5*math.Sin(hour*math.Pi), 1.0)
			solarKW := 0.0
			if hour >= 6 && hour <= 19 {
				solarKW = s.PeakSolarKW * math.Sin((hour-6)/13*math.Pi)
			}

			spaceKWH := (100 - soc) / 100 * s.CapacityKWH
			usableKWH := max(soc-s.MinSOC, 0) / 100 * s.CapacityKWH

			net := solarKW - homeKW
			var batteryKW, gridKW float64
			if net > 0 {
				charge := min(net, s.MaxRateKW, spaceKWH/hours)
				batteryKW = -charge
				gridKW = -(net - charge)
			} else {
				discharge := min(-net, s.MaxRateKW, usableKWH/hours)
				batteryKW = discharge
				gridKW = -net - discharge
			}

			var gridChargeKWH float64
			if s.GridCharge && hour >= 0.5 && hour < 4.5 {
				if batteryKW > 0 {
					// the grid covers the home while it charges the battery
					gridKW += batteryKW
					batteryKW = 0
				}
				charging := -batteryKW
				extra := min(s.MaxRateKW-charging, spaceKWH/hours-charging)
				if extra > 0 {
					batteryKW -= extra
					gridKW += extra
					gridChargeKWH = extra * hours
				}
			}

			soc += -batteryKW * hours / s.CapacityKWH * 100
			soc = min(max(soc, 0), 100)

			if !t.Before(from) {
				steps = append(steps, simulatedStep{
					ts:            t,
					homeKW:        homeKW,
					solarKW:       solarKW,
					batteryKW:     batteryKW,
					gridKW:        gridKW,
					soc:           soc,
					gridChargeKWH: gridChargeKWH,
				})
			}
		}
	}
	return steps
}

// samples groups steps into sampleLength buckets starting at each step's
// truncated time and calls fn with the bucket start and its steps.
func (s *Simulated) samples(steps []simulatedStep, fn func(ts time.Time, bucket []simulatedStep)) {
	for i := 0; i < len(steps); {
		start := steps[i].ts
		end := start.Add(s.sampleLength)
		j := i
		for j < len(steps) && steps[j].ts.Before(end) {
			j++
		}
		fn(start, steps[i:j])
		i = j
	}
}

// GetEnergyDetails implements System.
func (s *Simulated) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	ed := types.EnergyDetails{
		TimeUnit: "QUARTER_OF_AN_HOUR",
		Unit:     types.UnitWh,
		Series:   map[types.TelemetrySeries][]float64{},
	}
	hours := simulatedInterval.Hours()
	s.samples(s.simulate(from, to), func(ts time.Time, bucket []simulatedStep) {
		var purchased, feedIn, production, consumption, self float64
		for _, st := range bucket {
			if st.gridKW > 0 {
				purchased += st.gridKW * hours * 1000
			} else {
				feedIn += -st.gridKW * hours * 1000
			}
			production += st.solarKW * hours * 1000
			consumption += st.homeKW * hours * 1000
			self += min(st.solarKW, st.homeKW) * hours * 1000
		}
		ed.Timestamps = append(ed.Timestamps, ts)
		ed.Series[types.SeriesPurchased] = append(ed.Series[types.SeriesPurchased], purchased)
		ed.Series[types.SeriesFeedIn] = append(ed.Series[types.SeriesFeedIn], feedIn)
		ed.Series[types.SeriesProduction] = append(ed.Series[types.SeriesProduction], production)
		ed.Series[types.SeriesConsumption] = append(ed.Series[types.SeriesConsumption], consumption)
		ed.Series[types.SeriesSelfConsumption] = append(ed.Series[types.SeriesSelfConsumption], self)
	})
	return ed, nil
}

// GetPowerDetails implements PowerSystem with the mean power per sample.
func (s *Simulated) GetPowerDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	pd := types.EnergyDetails{
		TimeUnit: "QUARTER_OF_AN_HOUR",
		Unit:     types.UnitW,
		Series:   map[types.TelemetrySeries][]float64{},
	}
	s.samples(s.simulate(from, to), func(ts time.Time, bucket []simulatedStep) {
		var purchased, feedIn, production, consumption float64
		for _, st := range bucket {
			purchased += max(st.gridKW, 0)
			feedIn += max(-st.gridKW, 0)
			production += st.solarKW
			consumption += st.homeKW
		}
		n := float64(len(bucket)) / 1000
		pd.Timestamps = append(pd.Timestamps, ts)
		pd.Series[types.SeriesPurchased] = append(pd.Series[types.SeriesPurchased], purchased/n)
		pd.Series[types.SeriesFeedIn] = append(pd.Series[types.SeriesFeedIn], feedIn/n)
		pd.Series[types.SeriesProduction] = append(pd.Series[types.SeriesProduction], production/n)
		pd.Series[types.SeriesConsumption] = append(pd.Series[types.SeriesConsumption], consumption/n)
	})
	return pd, nil
}

// GetBatteryHistory implements BatterySystem with one telemetry per step.
// Power is positive while charging.
func (s *Simulated) GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error) {
	var bh types.BatteryHistory
	for _, st := range s.simulate(from, to) {
		bh.Timestamps = append(bh.Timestamps, st.ts)
		bh.StoredEnergyWh = append(bh.StoredEnergyWh, st.soc/100*s.CapacityKWH*1000)
		bh.PowerW = append(bh.PowerW, -st.batteryKW*1000)
		bh.ChargeFromGridWh += st.gridChargeKWH * 1000
	}
	return bh, nil
}
