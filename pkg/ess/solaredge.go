package ess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/common"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
)

const (
	solarEdgeTimeFormat = "2006-01-02 15:04:05"
	solarEdgeTimeUnit   = "QUARTER_OF_AN_HOUR"
)

// SolarEdge implements System, PowerSystem and BatterySystem against the
// SolarEdge monitoring API.
type SolarEdge struct {
	client  *http.Client
	baseURL string
	apiKey  string
	siteID  string
	loc     *time.Location

	newBackOff func() backoff.BackOff
}

// NewSolarEdge returns a SolarEdge system for siteID. Local times in API
// requests and responses are interpreted in loc.
func NewSolarEdge(client *http.Client, apiKey, siteID string, loc *time.Location) *SolarEdge {
	if client == nil {
		client = common.HTTPClient(time.Minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SolarEdge{
		client:     client,
		baseURL:    "https://monitoringapi.solaredge.com",
		apiKey:     apiKey,
		siteID:     siteID,
		loc:        loc,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithMaxRetries(b, 4)
}

// configuredSolarEdge sets up flags for SolarEdge and returns the instance.
func configuredSolarEdge() *SolarEdge {
	s := NewSolarEdge(nil, "", "", nil)
	apiURL := lflag.String("solaredge-api-url", s.baseURL, "URL for the SolarEdge monitoring API")
	apiKey := lflag.String("solaredge-api-key", "", "API key for the SolarEdge monitoring API")
	siteID := lflag.String("solaredge-site-id", "", "SolarEdge site id")

	lflag.Do(func() {
		s.baseURL = *apiURL
		s.apiKey = *apiKey
		s.siteID = *siteID
	})
	return s
}

// Validate ensures the configuration is valid.
func (s *SolarEdge) Validate() error {
	if s.apiKey == "" {
		return errors.New("solaredge-api-key is required")
	}
	if s.siteID == "" {
		return errors.New("solaredge-site-id is required")
	}
	if _, err := url.Parse(s.baseURL); err != nil {
		return fmt.Errorf("failed to parse solaredge url (%s): %w", s.baseURL, err)
	}
	return nil
}

type solarEdgeStatusError struct {
	code int
}

func (e solarEdgeStatusError) Error() string {
	return fmt.Sprintf("solaredge api status %d", e.code)
}

// request calls the site function and decodes the JSON response into dest.
// Rate limiting and server errors are retried with backoff.
func (s *SolarEdge) request(ctx context.Context, function string, params url.Values, dest any) error {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return err
	}
	u = u.JoinPath("site", s.siteID, function)
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", s.apiKey)
	u.RawQuery = q.Encode()

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			serr := solarEdgeStatusError{code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				log.Ctx(ctx).DebugContext(ctx, "retrying solaredge request", slog.String("function", function), slog.Int("status", resp.StatusCode))
				return nil, serr
			}
			log.Ctx(ctx).ErrorContext(ctx, "solaredge api error", slog.String("function", function), slog.Int("status", resp.StatusCode), slog.String("body", string(body)))
			return nil, backoff.Permanent(serr)
		}
		return body, nil
	}

	body, err := backoff.RetryWithData(op, backoff.WithContext(s.newBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("solaredge %s request failed: %w", function, err)
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode solaredge response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode solaredge %s response: %w", function, err)
	}
	return nil
}

func (s *SolarEdge) windowParams(from, to time.Time) url.Values {
	params := url.Values{}
	params.Set("startTime", from.In(s.loc).Format(solarEdgeTimeFormat))
	// the API treats endTime as inclusive
	params.Set("endTime", to.Add(-time.Second).In(s.loc).Format(solarEdgeTimeFormat))
	return params
}

type solarEdgeValue struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

type solarEdgeMeter struct {
	Type   string           `json:"type"`
	Values []solarEdgeValue `json:"values"`
}

type solarEdgeDetails struct {
	TimeUnit string           `json:"timeUnit"`
	Unit     string           `json:"unit"`
	Meters   []solarEdgeMeter `json:"meters"`
}

// parseWallClock parses a local SolarEdge timestamp. A wall clock time that
// occurs twice when clocks go back resolves to the earliest instant after prev,
// so the repeated hour lands after the first one.
func (s *SolarEdge) parseWallClock(value string, prev time.Time) (time.Time, error) {
	ts, err := time.ParseInLocation(solarEdgeTimeFormat, value, s.loc)
	if err != nil {
		return time.Time{}, err
	}
	_, before := ts.Add(-12 * time.Hour).Zone()
	_, after := ts.Add(12 * time.Hour).Zone()
	shift := time.Duration(before-after) * time.Second
	if shift <= 0 {
		return ts, nil
	}
	for _, c := range []time.Time{ts.Add(-shift), ts, ts.Add(shift)} {
		if c.In(s.loc).Format(solarEdgeTimeFormat) != value {
			continue
		}
		if c.After(prev) {
			return c, nil
		}
	}
	return ts, nil
}

// toEnergyDetails merges the per meter value lists onto one sorted set of
// timestamps. Samples a meter did not report are filled with missing.
func (s *SolarEdge) toEnergyDetails(d solarEdgeDetails, from, to time.Time, missing float64) (types.EnergyDetails, error) {
	ed := types.EnergyDetails{
		TimeUnit: d.TimeUnit,
		Unit:     types.Unit(d.Unit),
		Series:   make(map[types.TelemetrySeries][]float64, len(d.Meters)),
	}

	index := map[time.Time]int{}
	parsed := make([][]time.Time, len(d.Meters))
	for i, m := range d.Meters {
		parsed[i] = make([]time.Time, len(m.Values))
		var prev time.Time
		for j, v := range m.Values {
			ts, err := s.parseWallClock(v.Date, prev)
			if err != nil {
				return types.EnergyDetails{}, fmt.Errorf("invalid solaredge date %q: %w", v.Date, err)
			}
			parsed[i][j] = ts
			prev = ts
			if ts.Before(from) || !ts.Before(to) {
				continue
			}
			if _, ok := index[ts]; !ok {
				index[ts] = 0
				ed.Timestamps = append(ed.Timestamps, ts)
			}
		}
	}
	sort.Slice(ed.Timestamps, func(i, j int) bool {
		return ed.Timestamps[i].Before(ed.Timestamps[j])
	})
	for i, ts := range ed.Timestamps {
		index[ts] = i
	}

	for i, m := range d.Meters {
		values := make([]float64, len(ed.Timestamps))
		for j := range values {
			values[j] = missing
		}
		for j, v := range m.Values {
			k, ok := index[parsed[i][j]]
			if !ok || v.Value == nil {
				continue
			}
			values[k] = *v.Value
		}
		ed.Series[types.TelemetrySeries(m.Type)] = values
	}
	return ed, nil
}

// GetEnergyDetails implements System. Samples without a value count as no
// energy.
func (s *SolarEdge) GetEnergyDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	log.Ctx(ctx).DebugContext(ctx, "getting solaredge energy details", slog.Time("start", from), slog.Time("end", to))
	params := s.windowParams(from, to)
	params.Set("timeUnit", solarEdgeTimeUnit)

	var res struct {
		EnergyDetails solarEdgeDetails `json:"energyDetails"`
	}
	if err := s.request(ctx, "energyDetails", params, &res); err != nil {
		return types.EnergyDetails{}, err
	}
	return s.toEnergyDetails(res.EnergyDetails, from, to, 0)
}

// GetPowerDetails implements PowerSystem.
func (s *SolarEdge) GetPowerDetails(ctx context.Context, from, to time.Time) (types.EnergyDetails, error) {
	log.Ctx(ctx).DebugContext(ctx, "getting solaredge power details", slog.Time("start", from), slog.Time("end", to))
	var res struct {
		PowerDetails solarEdgeDetails `json:"powerDetails"`
	}
	if err := s.request(ctx, "powerDetails", s.windowParams(from, to), &res); err != nil {
		return types.EnergyDetails{}, err
	}
	return s.toEnergyDetails(res.PowerDetails, from, to, math.NaN())
}

type solarEdgeTelemetry struct {
	TimeStamp               string  `json:"timeStamp"`
	Power                   float64 `json:"power"`
	FullPackEnergyAvailable float64 `json:"fullPackEnergyAvailable"`
	ACGridCharging          float64 `json:"ACGridCharging"`
	BatteryPercentageState  float64 `json:"batteryPercentageState"`
}

type solarEdgeStorageData struct {
	StorageData struct {
		BatteryCount int `json:"batteryCount"`
		Batteries    []struct {
			SerialNumber string               `json:"serialNumber"`
			Telemetries  []solarEdgeTelemetry `json:"telemetries"`
		} `json:"batteries"`
	} `json:"storageData"`
}

// GetBatteryHistory implements BatterySystem. Only single battery sites are
// supported. Stored energy is the battery's available pack energy scaled by
// its state of charge and each telemetry's ACGridCharging is the energy it
// took from the grid since the previous one.
func (s *SolarEdge) GetBatteryHistory(ctx context.Context, from, to time.Time) (types.BatteryHistory, error) {
	log.Ctx(ctx).DebugContext(ctx, "getting solaredge storage data", slog.Time("start", from), slog.Time("end", to))
	var res solarEdgeStorageData
	if err := s.request(ctx, "storageData", s.windowParams(from, to), &res); err != nil {
		return types.BatteryHistory{}, err
	}
	if n := res.StorageData.BatteryCount; n != 1 || len(res.StorageData.Batteries) != 1 {
		return types.BatteryHistory{}, fmt.Errorf("expected 1 battery, but found %d", n)
	}

	telemetries := res.StorageData.Batteries[0].Telemetries
	var bh types.BatteryHistory
	var prev time.Time
	for _, t := range telemetries {
		ts, err := s.parseWallClock(t.TimeStamp, prev)
		if err != nil {
			return types.BatteryHistory{}, fmt.Errorf("invalid solaredge timestamp %q: %w", t.TimeStamp, err)
		}
		prev = ts
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		bh.Timestamps = append(bh.Timestamps, ts)
		bh.StoredEnergyWh = append(bh.StoredEnergyWh, t.FullPackEnergyAvailable*t.BatteryPercentageState/100)
		bh.PowerW = append(bh.PowerW, t.Power)
		bh.ChargeFromGridWh += t.ACGridCharging
	}
	return bh, nil
}
