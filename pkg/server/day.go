package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/metrics"
	"github.com/raterudder/energyhub/pkg/types"
)

type dayQuery struct {
	day       types.Day
	tax       types.TaxMode
	direction types.Direction
	path      types.Path
}

func (s *Server) parseDayQuery(r *http.Request) (dayQuery, error) {
	q := r.URL.Query()
	dq := dayQuery{
		tax:       s.defaultTax,
		direction: types.DirectionConsumption,
		path:      types.PathCalculated,
	}
	dayStr := q.Get("day")
	if dayStr == "" {
		return dq, errors.New("day is required")
	}
	var err error
	if dq.day, err = types.ParseDay(dayStr); err != nil {
		return dq, err
	}
	if v := q.Get("tax"); v != "" {
		if dq.tax, err = types.ParseTaxMode(v); err != nil {
			return dq, err
		}
	}
	if v := q.Get("direction"); v != "" {
		if dq.direction, err = types.ParseDirection(v); err != nil {
			return dq, err
		}
	}
	if v := q.Get("path"); v != "" {
		if dq.path, err = types.ParsePath(v); err != nil {
			return dq, err
		}
	}
	return dq, nil
}

// setCacheControl caches days that have ended for a day and the current day
// for a minute.
func (s *Server) setCacheControl(w http.ResponseWriter, day types.Day) {
	_, end := s.est.Grid().DayBounds(day)
	if end.Before(s.now()) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

// writeBillingError maps an estimator error onto a status. Readings the
// supplier has not published yet are a 404, inconsistent upstream data is a
// 502.
func writeBillingError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if kind := billing.ReadingErrorKind(err); kind != "" {
		metrics.IncReadingError(kind)
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrMissingMeterReading):
		code = http.StatusNotFound
	case errors.Is(err, billing.ErrMeterReading),
		errors.Is(err, billing.ErrMissingRates),
		errors.Is(err, billing.ErrMissingTelemetry),
		errors.Is(err, billing.ErrUnsupportedUnit):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Any("error", err))
	}
	writeJSONError(w, fmt.Sprintf("%s: %v", msg, err), code)
}

func (s *Server) handleDayBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dq, err := s.parseDayQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	bill, err := s.est.Day(dq.day).Bill(ctx, dq.direction, dq.path, dq.tax)
	if err != nil {
		writeBillingError(w, r, "failed to build bill", err)
		return
	}
	s.setCacheControl(w, dq.day)
	writeJSON(w, bill)
}

func (s *Server) handleDayComparison(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dq, err := s.parseDayQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := s.checker.CompareDay(ctx, dq.day, dq.tax)
	if err != nil {
		writeBillingError(w, r, "failed to compare day", err)
		return
	}
	s.setCacheControl(w, dq.day)
	writeJSON(w, report)
}

// nullable encodes NaN as null since JSON has no NaN.
type nullable []float64

func (n nullable) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	b := []byte{'['}
	for i, v := range n {
		if i > 0 {
			b = append(b, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b = append(b, "null"...)
			continue
		}
		b = fmt.Appendf(b, "%g", v)
	}
	return append(b, ']'), nil
}

type daySeriesResponse struct {
	Day           types.Day       `json:"day"`
	Direction     types.Direction `json:"direction"`
	Tax           types.TaxMode   `json:"tax"`
	Periods       []types.Period  `json:"periods"`
	CalculatedKWH nullable        `json:"calculatedKWH"`
	EstimatedKWH  nullable        `json:"estimatedKWH"`
	Rates         nullable        `json:"rates"`
	Errors        []string        `json:"errors,omitempty"`
}

// handleDaySeries returns both energy paths side by side. A path that cannot
// be computed is null and its error is listed, so a day with late supplier
// readings still shows the telemetry estimate.
func (s *Server) handleDaySeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dq, err := s.parseDayQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	de := s.est.Day(dq.day)
	resp := daySeriesResponse{
		Day:       dq.day,
		Direction: dq.direction,
		Tax:       dq.tax,
		Periods:   de.BillingPeriods(),
	}
	var failed []error
	if resp.CalculatedKWH, err = de.Calculated(ctx, dq.direction); err != nil {
		failed = append(failed, err)
	}
	if resp.EstimatedKWH, err = de.Estimated(ctx, dq.direction); err != nil {
		failed = append(failed, err)
	}
	if resp.Rates, err = de.Rates(ctx, dq.direction, dq.tax); err != nil {
		failed = append(failed, err)
	}
	if len(failed) == 3 {
		writeBillingError(w, r, "failed to build series", errors.Join(failed...))
		return
	}
	for _, err := range failed {
		if kind := billing.ReadingErrorKind(err); kind != "" {
			metrics.IncReadingError(kind)
		}
		resp.Errors = append(resp.Errors, err.Error())
	}
	if len(failed) == 0 {
		s.setCacheControl(w, dq.day)
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	writeJSON(w, resp)
}

type dayLoadsResponse struct {
	Timestamps []time.Time         `json:"timestamps"`
	LoadW      nullable            `json:"loadW"`
	SubLoadsW  map[string]nullable `json:"subLoadsW"`
	HouseholdW nullable            `json:"householdW"`
}

func (s *Server) handleDayLoads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.loads == nil {
		writeJSONError(w, "load breakdown is not available for this telemetry provider", http.StatusNotFound)
		return
	}
	dq, err := s.parseDayQuery(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, to := s.est.Grid().DayBounds(dq.day)
	bd, err := s.loads.Breakdown(ctx, from, to)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build load breakdown", slog.String("day", dq.day.String()), slog.Any("error", err))
		writeJSONError(w, "failed to build load breakdown: "+err.Error(), http.StatusBadGateway)
		return
	}
	resp := dayLoadsResponse{
		Timestamps: bd.Timestamps,
		LoadW:      bd.LoadW,
		HouseholdW: bd.HouseholdW,
		SubLoadsW:  make(map[string]nullable, len(bd.SubLoadsW)),
	}
	for name, v := range bd.SubLoadsW {
		resp.SubLoadsW[name] = v
	}
	s.setCacheControl(w, dq.day)
	writeJSON(w, resp)
}
