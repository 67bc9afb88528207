package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BillingPeriod is a half-open time interval [start, end).
// The zero value is not a valid period; use NewBillingPeriod.
type BillingPeriod struct {
	start time.Time
	end   time.Time
}

// NewBillingPeriod returns the period [start, end). start must be before end.
func NewBillingPeriod(start, end time.Time) (BillingPeriod, error) {
	if !start.Before(end) {
		return BillingPeriod{}, Errorf(EINVALID, "billing_period.new",
			"billing period start %s must be before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return BillingPeriod{start: start, end: end}, nil
}

// MustBillingPeriod is like NewBillingPeriod but panics on an invalid range.
func MustBillingPeriod(start, end time.Time) BillingPeriod {
	p, err := NewBillingPeriod(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

func (p BillingPeriod) Start() time.Time { return p.start }
func (p BillingPeriod) End() time.Time   { return p.end }

// IsZero reports whether p is the zero value.
func (p BillingPeriod) IsZero() bool {
	return p.start.IsZero() && p.end.IsZero()
}

func (p BillingPeriod) Duration() time.Duration {
	return p.end.Sub(p.start)
}

// DurationSeconds returns the length of the period in whole seconds.
func (p BillingPeriod) DurationSeconds() int64 {
	return p.end.Unix() - p.start.Unix()
}

// Contains reports whether t falls inside [start, end).
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.start) && t.Before(p.end)
}

// Equal reports whether both bounds match.
func (p BillingPeriod) Equal(other BillingPeriod) bool {
	return p.start.Equal(other.start) && p.end.Equal(other.end)
}

// Intersect returns the overlap of p with [from, until). A nil bound is
// unbounded on that side. ok is false when the overlap is empty.
func (p BillingPeriod) Intersect(from, until *time.Time) (BillingPeriod, bool) {
	start, end := p.start, p.end
	if from != nil && from.After(start) {
		start = *from
	}
	if until != nil && until.Before(end) {
		end = *until
	}
	if !start.Before(end) {
		return BillingPeriod{}, false
	}
	return BillingPeriod{start: start, end: end}, true
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("[%s, %s)", p.start.Format(time.RFC3339), p.end.Format(time.RFC3339))
}

type periodJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MarshalJSON encodes the period as {"start": ..., "end": ...}.
func (p BillingPeriod) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodJSON{Start: p.start, End: p.end})
}

// UnmarshalJSON decodes and validates a period.
func (p *BillingPeriod) UnmarshalJSON(data []byte) error {
	var raw periodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewBillingPeriod(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
