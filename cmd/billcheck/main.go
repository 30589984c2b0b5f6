// Command billcheck compares the calculated and estimated bills of past days
// and, optionally, checks them against supplier statements.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/reconcile"
	"github.com/raterudder/energyhub/pkg/site"
	"github.com/raterudder/energyhub/pkg/types"
)

func main() {
	cfg := site.Configured()
	fromStr := lflag.RequiredString("from", "First day to check (YYYY-MM-DD)")
	toStr := lflag.String("to", "", "Last day to check, defaults to --from")
	taxStr := lflag.String("tax", string(types.TaxInclusive), "Tax mode for the day comparison (inc_vat or exc_vat)")
	invoicePath := lflag.String("invoice", "", "YAML file of supplier statement lines to check against")
	asJSON := lflag.Bool("json", false, "Print results as JSON lines")
	lflag.Configure()
	log.SyncLLogLevel()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fail := func(msg string, err error) {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		os.Exit(1)
	}

	from, err := types.ParseDay(*fromStr)
	if err != nil {
		fail("invalid --from", err)
	}
	to := from
	if *toStr != "" {
		if to, err = types.ParseDay(*toStr); err != nil {
			fail("invalid --to", err)
		}
	}
	if to.Before(from) {
		fail("invalid range", fmt.Errorf("%s is before %s", to, from))
	}
	tax, err := types.ParseTaxMode(*taxStr)
	if err != nil {
		fail("invalid --tax", err)
	}

	s, err := cfg.Build(ctx)
	if err != nil {
		fail("failed to configure site", err)
	}
	defer s.Close()

	enc := json.NewEncoder(os.Stdout)
	ok := true
	for day := from; !to.Before(day); day = day.AddDays(1) {
		report, err := s.Checker.CompareDay(ctx, day, tax)
		if err != nil {
			fail("failed to compare day", err)
		}
		if report.Outcome == reconcile.OutcomeFail || report.Outcome == reconcile.OutcomeError {
			ok = false
		}
		if *asJSON {
			if err := enc.Encode(report); err != nil {
				fail("failed to write report", err)
			}
			continue
		}
		fmt.Println(report)
	}

	if *invoicePath != "" {
		inv, err := reconcile.LoadInvoice(*invoicePath)
		if err != nil {
			fail("failed to load invoice", err)
		}
		for _, res := range s.Checker.CheckInvoice(ctx, inv) {
			if !res.OK() {
				ok = false
			}
			if *asJSON {
				if err := enc.Encode(res); err != nil {
					fail("failed to write invoice result", err)
				}
				continue
			}
			line := fmt.Sprintf("%s invoice %.2fkWh %.0fp | calculated %.2fkWh %.2fp ok=%t | estimated %.2fkWh %.2fp ok=%t",
				res.Day, res.InvoiceKWH, res.InvoicePence,
				res.CalculatedKWH, res.CalculatedPence, res.CalculatedOK,
				res.EstimatedKWH, res.EstimatedPence, res.EstimatedOK)
			if res.Error != "" {
				line += " error: " + res.Error
			}
			fmt.Println(line)
		}
	}

	if !ok {
		os.Exit(1)
	}
}
