package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
)

var (
	// ErrMeterReading is the parent of every meter reading error.
	ErrMeterReading = errors.New("meter reading error")
	// ErrMissingMeterReading is returned when readings do not line up with a
	// billing period or a day has no readings at all.
	ErrMissingMeterReading = fmt.Errorf("missing meter reading: %w", ErrMeterReading)
	// ErrDuplicateMeterReading is returned when more than one value lands in
	// the same billing period.
	ErrDuplicateMeterReading = fmt.Errorf("duplicate meter reading: %w", ErrMeterReading)
	// ErrMeterReadingTimeMismatch is returned when a reading starts on a
	// billing period but ends somewhere else.
	ErrMeterReadingTimeMismatch = fmt.Errorf("meter reading time mismatch: %w", ErrMeterReading)

	// ErrMissingRates is returned when a billing period has no tariff rate.
	ErrMissingRates = errors.New("missing tariff rates")
	// ErrMissingTelemetry is returned when telemetry lacks the series needed
	// for an estimate.
	ErrMissingTelemetry = errors.New("missing telemetry series")
	// ErrUnsupportedUnit is returned for telemetry that is not energy.
	ErrUnsupportedUnit = errors.New("unsupported telemetry unit")
	// ErrAlreadySet is returned when a write-once value is written twice.
	ErrAlreadySet = errors.New("value already set")
)

// ReadingError describes an interval that could not be placed on the billing
// grid. It unwraps to one of the ErrMeterReading kinds.
type ReadingError struct {
	Kind error
	From time.Time
	To   time.Time
	// Period is the billing period From matched, if any.
	Period *types.Period
}

func (e *ReadingError) Error() string {
	msg := fmt.Sprintf("%s: [%s, %s)", e.Kind, e.From.Format(time.RFC3339), e.To.Format(time.RFC3339))
	if e.Period != nil {
		msg += fmt.Sprintf(" matched period [%s, %s)", e.Period.Start.Format(time.RFC3339), e.Period.End.Format(time.RFC3339))
	}
	return msg
}

func (e *ReadingError) Unwrap() error {
	return e.Kind
}

// ReadingErrorKind returns a short label for the meter reading error in err's
// chain, or "" when there is none.
func ReadingErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingMeterReading):
		return "missing"
	case errors.Is(err, ErrDuplicateMeterReading):
		return "duplicate"
	case errors.Is(err, ErrMeterReadingTimeMismatch):
		return "time_mismatch"
	}
	return ""
}
