package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
)

// ScheduleRepository stores billing schedules.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check that ScheduleRepository implements schedule.Repository.
var _ schedule.Repository = (*ScheduleRepository)(nil)

func (r *ScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*schedule.Schedule, error) {
	var (
		s         schedule.Schedule
		retryDays []int32
		unpaid    string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, label, plugin, interval_number, interval_unit, billing_type, retry_days, unpaid_subscription_state
		 FROM billing_schedules WHERE id = $1`, id,
	).Scan(&s.ID, &s.Label, &s.Plugin, &s.Interval.Number, &s.Interval.Unit, &s.BillingType, &retryDays, &unpaid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.WithOp(schedule.ErrScheduleNotFound, "schedule.get")
	}
	if err != nil {
		return nil, domain.Internal(err, "schedule.get", "failed to get billing schedule")
	}

	s.RetryDays = make([]int, len(retryDays))
	for i, d := range retryDays {
		s.RetryDays[i] = int(d)
	}
	s.UnpaidSubscriptionState = domain.SubscriptionState(unpaid)
	return &s, nil
}

// Create inserts a schedule after validating it.
func (r *ScheduleRepository) Create(ctx context.Context, s *schedule.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	retryDays := make([]int32, len(s.RetryDays))
	for i, d := range s.RetryDays {
		retryDays[i] = int32(d)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO billing_schedules (id, label, plugin, interval_number, interval_unit, billing_type, retry_days, unpaid_subscription_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Label, string(s.Plugin), s.Interval.Number, string(s.Interval.Unit),
		string(s.Type()), retryDays, string(s.UnpaidState()),
	)
	if isDuplicateError(err) {
		return domain.Conflict("schedule.create", "Billing schedule already exists.")
	}
	if err != nil {
		return domain.Internal(err, "schedule.create", "failed to create billing schedule")
	}
	return nil
}
