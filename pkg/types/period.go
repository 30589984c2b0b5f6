package types

import "time"

// Period is a half-open billing interval [Start, End).
type Period struct {
	Start time.Time `json:"tsStart"`
	End   time.Time `json:"tsEnd"`
}

// Duration returns End - Start.
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Contains reports whether t falls inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}
