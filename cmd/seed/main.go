// Command seed fills the Firestore emulator with simulated settled days so the
// server can be run locally without supplier or inverter credentials.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/ess"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/period"
	"github.com/raterudder/energyhub/pkg/series"
	"github.com/raterudder/energyhub/pkg/storage"
	"github.com/raterudder/energyhub/pkg/types"
	"github.com/raterudder/energyhub/pkg/utility"
)

// agilePence is an Agile-like unit rate excluding VAT with an evening peak.
func agilePence(rng *rand.Rand, start time.Time) float64 {
	h := float64(start.Hour()) + float64(start.Minute())/60
	p := 14 + 6*math.Sin((h-6)/24*2*math.Pi)
	if h >= 16 && h < 19 {
		p += 15
	}
	return math.Round((p+rng.Float64()*2-1)*100) / 100
}

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	grid := period.Configured()
	u := utility.Configured()
	s := storage.Configured()
	daysStr := lflag.String("seed-days", "14", "Number of settled days before today to seed")
	lflag.Configure()
	log.SyncLLogLevel()

	ctx := context.Background()
	fail := func(msg string, err error) {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		os.Exit(1)
	}

	days, err := strconv.Atoi(*daysStr)
	if err != nil || days < 1 {
		fail("invalid seed-days", fmt.Errorf("%q", *daysStr))
	}
	db := s.Database
	if db == nil {
		fail("seeding needs --storage-provider=firestore", nil)
	}
	defer db.Close()

	prov, err := u.Provider("octopus")
	if err != nil {
		fail("no octopus provider", err)
	}
	meters := map[types.Direction]types.MeterPoint{}
	for _, d := range []types.Direction{types.DirectionConsumption, types.DirectionExport} {
		if m, err := prov.MeterPoint(d); err == nil {
			meters[d] = m
		}
	}
	if _, ok := meters[types.DirectionConsumption]; !ok {
		fail("seeding needs --octopus-import-mpan and --octopus-import-serial", nil)
	}

	sim := ess.NewSimulated(grid.Location())
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	today := types.DayOf(time.Now().In(grid.Location()))

	log.Ctx(ctx).InfoContext(ctx, "seeding simulated days", slog.Int("days", days))
	for day := today.AddDays(-days); day.Before(today); day = day.AddDays(1) {
		from, to := grid.DayBounds(day)
		periods := grid.PeriodsForDay(day)

		details, err := sim.GetEnergyDetails(ctx, from, to)
		if err != nil {
			fail("failed to simulate energy", err)
		}
		history, err := sim.GetBatteryHistory(ctx, from, to)
		if err != nil {
			fail("failed to simulate battery", err)
		}
		if err := db.UpsertEnergyDetails(ctx, from, to, details); err != nil {
			fail("failed to seed energy details", err)
		}
		if err := db.UpsertBatteryHistory(ctx, from, to, history); err != nil {
			fail("failed to seed battery history", err)
		}

		// the meter sees what the inverter sees, give or take its own rounding
		for direction, meter := range meters {
			wh, err := series.Accumulate(periods, details.Timestamps, details.Series[types.SeriesFor(direction)])
			if err != nil {
				fail("failed to accumulate telemetry", err)
			}
			readings := make([]types.MeterReading, len(periods))
			for i, p := range periods {
				kwh := wh[i]/1000 + (rng.Float64()-0.5)*0.02
				readings[i] = types.MeterReading{From: p.Start, To: p.End, KWH: math.Round(max(kwh, 0)*1000) / 1000}
			}
			if err := db.UpsertMeterReadings(ctx, meter, readings); err != nil {
				fail("failed to seed meter readings", err)
			}

			rates := make([]types.Rate, len(periods))
			for i, p := range periods {
				exc := agilePence(rng, p.Start.In(grid.Location()))
				if direction == types.DirectionExport {
					exc = 15
				}
				rates[i] = types.Rate{ValidFrom: p.Start, ValidTo: p.End, PenceExcVAT: exc, PenceIncVAT: math.Round(exc*105) / 100}
			}
			if err := db.UpsertRates(ctx, direction, rates); err != nil {
				fail("failed to seed rates", err)
			}
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded day", slog.String("day", day.String()))
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete")
}
