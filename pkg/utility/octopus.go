package utility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	httptransport "github.com/go-openapi/runtime/client"
	"github.com/go-openapi/strfmt"
	"github.com/levenlabs/go-lflag"
	octopus "github.com/mgazza/go-octopus-energy/client"
	"github.com/mgazza/go-octopus-energy/client/accounts"
	"github.com/mgazza/go-octopus-energy/client/electricity_meter_points"
	"github.com/mgazza/go-octopus-energy/client/products"
	"github.com/raterudder/energyhub/pkg/common"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
)

const (
	octopusReadingsPageSize = int64(336)
	octopusRatesPageSize    = int64(672)
)

// Octopus implements Provider against the Octopus Energy REST API.
type Octopus struct {
	client    *octopus.OctopusEnergyRESTAPI
	accountID string

	mu      sync.Mutex
	meters  map[types.Direction]types.MeterPoint
	tariffs map[types.Direction]types.Tariff
}

func newOctopusClient(rt http.RoundTripper, apiKey string) *octopus.OctopusEnergyRESTAPI {
	if rt == nil {
		rt = common.Transport(nil)
	}
	cfg := octopus.DefaultTransportConfig()
	transport := httptransport.New(cfg.Host, cfg.BasePath, cfg.Schemes)
	transport.Transport = rt
	transport.DefaultAuthentication = httptransport.BasicAuth(apiKey, "")
	return octopus.New(transport, strfmt.Default)
}

// NewOctopus returns an Octopus provider that sends requests through rt, or
// the default transport when rt is nil.
func NewOctopus(rt http.RoundTripper, apiKey, accountID string) *Octopus {
	return &Octopus{
		client:    newOctopusClient(rt, apiKey),
		accountID: accountID,
		meters:    make(map[types.Direction]types.MeterPoint),
		tariffs:   make(map[types.Direction]types.Tariff),
	}
}

// configuredOctopus sets up flags for Octopus and returns the instance.
// Meters and tariffs given on the command line take precedence over the ones
// discovered from the account.
func configuredOctopus() *Octopus {
	o := NewOctopus(nil, "", "")
	apiKey := lflag.String("octopus-api-key", "", "API key for the Octopus Energy REST API")
	accountID := lflag.String("octopus-account-id", "", "Octopus account number used to discover meters and tariffs (e.g. A-1234ABCD)")
	importMPAN := lflag.String("octopus-import-mpan", "", "MPAN of the import meter")
	importSerial := lflag.String("octopus-import-serial", "", "Serial number of the import meter")
	importProduct := lflag.String("octopus-import-product", "", "Product code of the import tariff (e.g. AGILE-FLEX-22-11-25)")
	importTariff := lflag.String("octopus-import-tariff", "", "Tariff code of the import tariff (e.g. E-1R-AGILE-FLEX-22-11-25-C)")
	exportMPAN := lflag.String("octopus-export-mpan", "", "MPAN of the export meter")
	exportSerial := lflag.String("octopus-export-serial", "", "Serial number of the export meter")
	exportProduct := lflag.String("octopus-export-product", "", "Product code of the export tariff")
	exportTariff := lflag.String("octopus-export-tariff", "", "Tariff code of the export tariff")

	lflag.Do(func() {
		o.client = newOctopusClient(nil, *apiKey)
		o.accountID = *accountID
		o.SetMeterPoint(types.DirectionConsumption, types.MeterPoint{MPAN: *importMPAN, SerialNumber: *importSerial})
		o.SetMeterPoint(types.DirectionExport, types.MeterPoint{MPAN: *exportMPAN, SerialNumber: *exportSerial})
		o.SetTariff(types.DirectionConsumption, types.Tariff{ProductCode: *importProduct, TariffCode: *importTariff})
		o.SetTariff(types.DirectionExport, types.Tariff{ProductCode: *exportProduct, TariffCode: *exportTariff})
	})
	return o
}

// SetMeterPoint sets the meter for direction. A zero meter point is ignored.
func (o *Octopus) SetMeterPoint(direction types.Direction, meter types.MeterPoint) {
	if meter.IsZero() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.meters[direction] = meter
}

// SetTariff sets the tariff for direction. A tariff without a code is ignored.
func (o *Octopus) SetTariff(direction types.Direction, tariff types.Tariff) {
	if tariff.TariffCode == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tariffs[direction] = tariff
}

// Validate ensures the configuration is valid.
func (o *Octopus) Validate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.meters[types.DirectionConsumption]; !ok {
		return errors.New("an import meter is required (set octopus-import-mpan and octopus-import-serial or octopus-account-id)")
	}
	for dir, t := range o.tariffs {
		if t.ProductCode == "" {
			return fmt.Errorf("the %s tariff %s has no product code", dir, t.TariffCode)
		}
	}
	return nil
}

// MeterPoint implements Provider.
func (o *Octopus) MeterPoint(direction types.Direction) (types.MeterPoint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.meters[direction]
	if !ok {
		return types.MeterPoint{}, fmt.Errorf("no %s meter configured", direction)
	}
	return m, nil
}

// Tariff returns the tariff for direction.
func (o *Octopus) Tariff(direction types.Direction) (types.Tariff, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tariffs[direction]
	if !ok {
		return types.Tariff{}, fmt.Errorf("no %s tariff configured", direction)
	}
	return t, nil
}

// Discover looks up the account's electricity meter points and fills in any
// meter or tariff that was not configured explicitly. It is a no-op without
// an account id.
func (o *Octopus) Discover(ctx context.Context) error {
	if o.accountID == "" {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "discovering octopus meters", slog.String("account", o.accountID))

	params := accounts.NewGetAccountParams().WithContext(ctx).WithAccountID(o.accountID)
	response, err := o.client.Accounts.GetAccount(params, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch account details: %w", err)
	}
	if len(response.Payload.Properties) < 1 {
		return errors.New("no properties found on the account")
	}
	property := response.Payload.Properties[0]

	productResponse, err := o.client.Products.ListProducts(products.NewListProductsParams().WithContext(ctx), nil)
	if err != nil {
		return fmt.Errorf("failed to fetch products: %w", err)
	}
	findProductCode := func(tariffCode string) string {
		for _, p := range productResponse.Payload.Results {
			if p.Code != nil && strings.Contains(tariffCode, *p.Code) {
				return *p.Code
			}
		}
		return ""
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, mp := range property.ElectricityMeterPoints {
		if len(mp.Meters) < 1 {
			continue
		}
		dir := types.DirectionConsumption
		if mp.IsExport {
			dir = types.DirectionExport
		}
		if _, ok := o.meters[dir]; !ok {
			o.meters[dir] = types.MeterPoint{
				MPAN:         mp.Mpan,
				SerialNumber: mp.Meters[0].SerialNumber,
			}
		}
		if _, ok := o.tariffs[dir]; !ok && len(mp.Agreements) > 0 {
			tariffCode := mp.Agreements[len(mp.Agreements)-1].TariffCode
			o.tariffs[dir] = types.Tariff{
				ProductCode: findProductCode(tariffCode),
				TariffCode:  tariffCode,
			}
		}
		log.Ctx(ctx).DebugContext(
			ctx,
			"discovered octopus meter point",
			slog.String("direction", string(dir)),
			slog.String("mpan", mp.Mpan),
			slog.Bool("export", mp.IsExport),
		)
	}
	return nil
}

// GetMeterReadings implements Provider.
func (o *Octopus) GetMeterReadings(ctx context.Context, meter types.MeterPoint, from, to time.Time) ([]types.MeterReading, error) {
	log.Ctx(ctx).DebugContext(
		ctx,
		"getting octopus consumption",
		slog.String("meter", meter.String()),
		slog.Time("start", from),
		slog.Time("end", to),
	)

	page := int64(1)
	pageSize := octopusReadingsPageSize
	orderBy := "period"
	params := electricity_meter_points.NewListConsumptionForAnElectricityMeterParams().
		WithContext(ctx).
		WithMpan(meter.MPAN).
		WithSerialNumber(meter.SerialNumber).
		WithPeriodFrom((*strfmt.DateTime)(&from)).
		WithPeriodTo((*strfmt.DateTime)(&to)).
		WithPageSize(&pageSize).
		WithOrderBy(&orderBy)

	var readings []types.MeterReading
	for {
		params.WithPage(&page)
		response, err := o.client.ElectricityMeterPoints.ListConsumptionForAnElectricityMeter(params, nil)
		if err != nil {
			return nil, fmt.Errorf("error querying octopus consumption: %w", err)
		}
		if !response.IsSuccess() {
			return nil, fmt.Errorf("error querying octopus consumption: %v", response.Error())
		}

		for _, r := range response.Payload.Results {
			if r.IntervalStart == nil || r.IntervalEnd == nil {
				return nil, fmt.Errorf("octopus consumption missing interval bounds on page %d", page)
			}
			readings = append(readings, types.MeterReading{
				From: time.Time(*r.IntervalStart),
				To:   time.Time(*r.IntervalEnd),
				KWH:  r.Consumption,
			})
		}

		if response.Payload.Next == nil {
			break
		}
		page++
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].From.Before(readings[j].From)
	})
	log.Ctx(ctx).DebugContext(ctx, "fetched octopus consumption", slog.Int("count", len(readings)))
	return readings, nil
}

// GetRates implements Provider. Rates without a start are clamped to from.
func (o *Octopus) GetRates(ctx context.Context, direction types.Direction, from, to time.Time) ([]types.Rate, error) {
	tariff, err := o.Tariff(direction)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"getting octopus unit rates",
		slog.String("product", tariff.ProductCode),
		slog.String("tariff", tariff.TariffCode),
		slog.Time("start", from),
		slog.Time("end", to),
	)

	page := int64(1)
	pageSize := octopusRatesPageSize
	params := products.NewListElectricityTariffStandardUnitRatesParams().
		WithContext(ctx).
		WithProductCode(tariff.ProductCode).
		WithTariffCode(tariff.TariffCode).
		WithPeriodFrom((*strfmt.DateTime)(&from)).
		WithPeriodTo((*strfmt.DateTime)(&to)).
		WithPageSize(&pageSize)

	var rates []types.Rate
	for {
		params.WithPage(&page)
		response, err := o.client.Products.ListElectricityTariffStandardUnitRates(params, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tariffs: %w", err)
		}

		for _, r := range response.Payload.Results {
			rate := types.Rate{
				ValidFrom:   from,
				PenceIncVAT: r.ValueIncVat,
				PenceExcVAT: r.ValueExcVat,
			}
			if r.ValidFrom != nil {
				rate.ValidFrom = time.Time(*r.ValidFrom)
			}
			if r.ValidTo != nil {
				rate.ValidTo = time.Time(*r.ValidTo)
			}
			rates = append(rates, rate)
		}

		if response.Payload.Next == nil {
			break
		}
		page++
	}

	// the API lists newest first
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].ValidFrom.Before(rates[j].ValidFrom)
	})
	log.Ctx(ctx).DebugContext(ctx, "fetched octopus unit rates", slog.Int("count", len(rates)))
	return rates, nil
}
