// Package schedule computes billing periods and holds the dunning and
// unpaid-subscription policy of a billing schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/recurring/internal/domain"
)

// Plugin selects how periods are anchored.
type Plugin string

const (
	// PluginFixed aligns periods to calendar boundaries (top of the hour,
	// midnight, Monday, the 1st of the month, January 1st).
	PluginFixed Plugin = "fixed"

	// PluginRolling anchors periods to the subscription's start time.
	PluginRolling Plugin = "rolling"
)

// BillingType decides when an order for a period is charged.
type BillingType string

const (
	// BillingTypePostpaid charges after the period elapses.
	BillingTypePostpaid BillingType = "postpaid"

	// BillingTypePrepaid charges when the period starts.
	BillingTypePrepaid BillingType = "prepaid"
)

// Unit is the calendar unit of an interval.
type Unit string

const (
	UnitHour  Unit = "hour"
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// Interval is a count of calendar units, e.g. 1 month.
type Interval struct {
	Number int  `json:"number" validate:"gte=1"`
	Unit   Unit `json:"unit" validate:"oneof=hour day week month year"`
}

func (i Interval) String() string {
	return fmt.Sprintf("%d %s", i.Number, i.Unit)
}

// Schedule is a billing schedule configuration.
type Schedule struct {
	ID          uuid.UUID   `json:"id"`
	Label       string      `json:"label" validate:"required"`
	Plugin      Plugin      `json:"plugin" validate:"oneof=fixed rolling"`
	Interval    Interval    `json:"interval"`
	BillingType BillingType `json:"billing_type" validate:"omitempty,oneof=postpaid prepaid"`

	// RetryDays lists the dunning delays in days. Empty means the first
	// decline is final.
	RetryDays []int `json:"retry_days" validate:"dive,gte=0"`

	// UnpaidSubscriptionState is applied to active subscriptions when
	// dunning is exhausted. "active" leaves them untouched.
	UnpaidSubscriptionState domain.SubscriptionState `json:"unpaid_subscription_state"`
}

// Validate checks the configuration.
func (s *Schedule) Validate() error {
	if err := domain.Validator().Struct(s); err != nil {
		return domain.WrapError(err, domain.EINVALID, "schedule.validate", "invalid billing schedule")
	}
	if s.UnpaidSubscriptionState != "" && !s.UnpaidSubscriptionState.IsValid() {
		return domain.Errorf(domain.EINVALID, "schedule.validate", "unknown subscription state %q", s.UnpaidSubscriptionState)
	}
	if st := s.UnpaidState(); st != domain.SubscriptionStateActive && !domain.SubscriptionStateActive.CanTransitionTo(st) {
		return domain.Errorf(domain.EINVALID, "schedule.validate", "active subscriptions cannot move to %q", st)
	}
	return nil
}

// PeriodFor returns the billing period for reference.
//
// Without a previous period it returns the period containing reference:
// fixed schedules align it to the calendar, rolling schedules step from
// anchor in whole intervals. With a previous period it returns the period
// that starts where previous ends.
func (s *Schedule) PeriodFor(anchor, reference time.Time, previous *domain.BillingPeriod) domain.BillingPeriod {
	if previous != nil {
		start := previous.End()
		// Rolling periods are recomputed from the anchor so month clamping
		// does not drift (Jan 31, Feb 28, Mar 31).
		if s.Plugin == PluginRolling && !anchor.After(start) {
			if p := s.rollingPeriod(anchor, start); p.Start().Equal(start) {
				return p
			}
		}
		return domain.MustBillingPeriod(start, s.advance(start, 1))
	}

	switch s.Plugin {
	case PluginRolling:
		return s.rollingPeriod(anchor, reference)
	default:
		start := s.align(reference)
		return domain.MustBillingPeriod(start, s.advance(start, 1))
	}
}

// FirstPeriod returns the period a subscription starting at start is first billed for.
func (s *Schedule) FirstPeriod(start time.Time) domain.BillingPeriod {
	return s.PeriodFor(start, start, nil)
}

// NextPeriod returns the period immediately after p.
func (s *Schedule) NextPeriod(p domain.BillingPeriod) domain.BillingPeriod {
	return s.PeriodFor(p.Start(), p.End(), &p)
}

// RetryDelays returns a copy of the dunning delays in days.
func (s *Schedule) RetryDelays() []int {
	out := make([]int, len(s.RetryDays))
	copy(out, s.RetryDays)
	return out
}

// MaxRetries is the number of retries dunning will schedule.
func (s *Schedule) MaxRetries() int {
	return len(s.RetryDays)
}

// UnpaidState returns the state to apply on exhausted dunning, defaulting to active.
func (s *Schedule) UnpaidState() domain.SubscriptionState {
	if s.UnpaidSubscriptionState == "" {
		return domain.SubscriptionStateActive
	}
	return s.UnpaidSubscriptionState
}

// Type returns the billing type, defaulting to postpaid.
func (s *Schedule) Type() BillingType {
	if s.BillingType == "" {
		return BillingTypePostpaid
	}
	return s.BillingType
}

// DueAt returns when an order for period is charged: the period start for
// prepaid schedules, the period end for postpaid ones.
func (s *Schedule) DueAt(period domain.BillingPeriod) time.Time {
	if s.Type() == BillingTypePrepaid {
		return period.Start()
	}
	return period.End()
}

// IsDue reports whether an order for period should be charged at now.
func (s *Schedule) IsDue(period domain.BillingPeriod, now time.Time) bool {
	return !now.Before(s.DueAt(period))
}

func (s *Schedule) number() int {
	if s.Interval.Number < 1 {
		return 1
	}
	return s.Interval.Number
}

// advance adds n intervals to t.
func (s *Schedule) advance(t time.Time, n int) time.Time {
	count := s.number() * n
	switch s.Interval.Unit {
	case UnitHour:
		return t.Add(time.Duration(count) * time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, count)
	case UnitWeek:
		return t.AddDate(0, 0, 7*count)
	case UnitYear:
		return addMonthsClamped(t, 12*count)
	default:
		return addMonthsClamped(t, count)
	}
}

// align truncates t to the start of its calendar unit.
func (s *Schedule) align(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch s.Interval.Unit {
	case UnitHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case UnitDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case UnitWeek:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case UnitYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	}
}

// rollingPeriod steps from anchor until the period contains reference.
func (s *Schedule) rollingPeriod(anchor, reference time.Time) domain.BillingPeriod {
	if reference.Before(anchor) {
		reference = anchor
	}

	// Jump close to the target for fixed-length units, then walk.
	n := 0
	if d := s.approxLength(); d > 0 {
		n = int(reference.Sub(anchor)/d) - 1
		if n < 0 {
			n = 0
		}
	}
	for {
		start := s.advance(anchor, n)
		end := s.advance(anchor, n+1)
		if start.After(reference) {
			n--
			continue
		}
		if reference.Before(end) {
			return domain.MustBillingPeriod(start, end)
		}
		n++
	}
}

func (s *Schedule) approxLength() time.Duration {
	day := 24 * time.Hour
	count := time.Duration(s.number())
	switch s.Interval.Unit {
	case UnitHour:
		return count * time.Hour
	case UnitDay:
		return count * day
	case UnitWeek:
		return count * 7 * day
	case UnitYear:
		return count * 365 * day
	default:
		return count * 28 * day
	}
}

// addMonthsClamped adds months and clamps the day to the target month's
// last day, so Jan 31 + 1 month is Feb 28 (or 29).
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Repository loads billing schedules.
type Repository interface {
	// Get returns ErrScheduleNotFound when the id does not resolve.
	Get(ctx context.Context, id uuid.UUID) (*Schedule, error)
}

// ErrScheduleNotFound is returned when a billing schedule id does not resolve.
var ErrScheduleNotFound = &domain.Error{Code: domain.ENOTFOUND, Message: "Billing schedule not found."}
