package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		retryDays   []int
		retryCount  int
		wantOutcome DunningOutcome
		wantDelay   int
	}{
		{name: "first decline retries after first delay", retryDays: []int{1, 3, 7}, retryCount: 0, wantOutcome: DunningRetry, wantDelay: 1},
		{name: "last retry uses last delay", retryDays: []int{1, 3, 7}, retryCount: 2, wantOutcome: DunningRetry, wantDelay: 7},
		{name: "exhausted gives up", retryDays: []int{1, 3, 7}, retryCount: 3, wantOutcome: DunningGiveUp},
		{name: "no retries gives up at once", retryDays: nil, retryCount: 0, wantOutcome: DunningGiveUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := &schedule.Schedule{RetryDays: tt.retryDays}

			d := Decide(sched, tt.retryCount)

			assert.Equal(t, tt.wantOutcome, d.Outcome)
			assert.Equal(t, tt.wantDelay, d.DelayDays)
			assert.Equal(t, len(tt.retryDays), d.MaxRetries)
			assert.Equal(t, time.Duration(tt.wantDelay)*24*time.Hour, d.Delay())
		})
	}
}

func dunningFixture(t *testing.T, unpaid domain.SubscriptionState) (*fixture, *domain.Order, []*domain.Subscription) {
	t.Helper()

	sched := hourlySchedule()
	sched.RetryDays = []int{1, 3, 7}
	sched.UnpaidSubscriptionState = unpaid
	f := newFixture(t, sched)
	ctx := context.Background()

	active := f.newSub()
	other := f.newSub(func(s *domain.Subscription) { s.Title = "Other" })

	order, err := f.svc.EnsureOrder(ctx, active)
	require.NoError(t, err)
	_, err = f.svc.EnsureOrder(ctx, other)
	require.NoError(t, err)

	return f, f.reloadOrder(t, order.ID), []*domain.Subscription{f.reloadSub(t, active.ID), f.reloadSub(t, other.ID)}
}

func TestHandleDecline_Retry(t *testing.T) {
	f, order, _ := dunningFixture(t, domain.SubscriptionStateSuspended)

	d, err := f.dunning.HandleDecline(context.Background(), order, 1, "Insufficient funds")
	require.NoError(t, err)

	assert.Equal(t, DunningRetry, d.Outcome)
	assert.Equal(t, 3, d.DelayDays)
	assert.Equal(t, domain.OrderStateDraft, f.reloadOrder(t, order.ID).State)

	events := f.events.declines()
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].DelayDays)
	assert.Equal(t, 1, events[0].RetryCount)
	assert.Equal(t, 3, events[0].MaxRetries)
	assert.Equal(t, "Insufficient funds", events[0].Reason)
	assert.False(t, events[0].Final())
	assert.Equal(t, order.ID, events[0].Order.ID)
}

func TestHandleDecline_GiveUpCascades(t *testing.T) {
	f, order, subs := dunningFixture(t, domain.SubscriptionStateSuspended)

	// A customer-initiated cancellation must survive the cascade.
	canceled := subs[1]
	canceled.State = domain.SubscriptionStateCanceled
	f.store.PutSubscription(canceled)

	d, err := f.dunning.HandleDecline(context.Background(), order, 3, "Card expired")
	require.NoError(t, err)

	assert.Equal(t, DunningGiveUp, d.Outcome)
	assert.Equal(t, domain.OrderStateFailed, f.reloadOrder(t, order.ID).State)
	assert.Equal(t, domain.SubscriptionStateSuspended, f.reloadSub(t, subs[0].ID).State)
	assert.Equal(t, domain.SubscriptionStateCanceled, f.reloadSub(t, subs[1].ID).State)

	events := f.events.declines()
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].DelayDays)
	assert.True(t, events[0].Final())
	assert.Equal(t, domain.OrderStateFailed, events[0].Order.State)
}

func TestHandleDecline_ActiveUnpaidStateLeavesSubscriptions(t *testing.T) {
	f, order, subs := dunningFixture(t, "")

	d, err := f.dunning.HandleDecline(context.Background(), order, 3, "Card expired")
	require.NoError(t, err)

	assert.Equal(t, DunningGiveUp, d.Outcome)
	for _, sub := range subs {
		assert.Equal(t, domain.SubscriptionStateActive, f.reloadSub(t, sub.ID).State)
	}
}

func TestHandleDecline_CascadeIsBestEffort(t *testing.T) {
	f, order, subs := dunningFixture(t, domain.SubscriptionStateSuspended)
	saveErr := errors.New("connection reset")
	f.store.SaveSubscriptionErr[subs[0].ID] = saveErr

	d, err := f.dunning.HandleDecline(context.Background(), order, 3, "Card expired")

	assert.Equal(t, DunningGiveUp, d.Outcome)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCascadeIncomplete)
	assert.ErrorIs(t, err, saveErr)

	assert.Equal(t, domain.OrderStateFailed, f.reloadOrder(t, order.ID).State)
	assert.Equal(t, domain.SubscriptionStateActive, f.reloadSub(t, subs[0].ID).State)
	assert.Equal(t, domain.SubscriptionStateSuspended, f.reloadSub(t, subs[1].ID).State)
	assert.Len(t, f.events.declines(), 1)
}

func TestHandleTerminal_GivesUpWithRetriesLeft(t *testing.T) {
	f, order, subs := dunningFixture(t, domain.SubscriptionStateCanceled)

	d, err := f.dunning.HandleTerminal(context.Background(), order, 0, "Payment method not found.")
	require.NoError(t, err)

	assert.Equal(t, DunningGiveUp, d.Outcome)
	assert.Equal(t, 3, d.MaxRetries)
	assert.Equal(t, domain.OrderStateFailed, f.reloadOrder(t, order.ID).State)
	assert.Equal(t, domain.SubscriptionStateCanceled, f.reloadSub(t, subs[0].ID).State)
}

func TestHandleDecline_FailedOrderIsTransitionError(t *testing.T) {
	f, order, _ := dunningFixture(t, "")

	_, err := f.dunning.HandleDecline(context.Background(), order, 3, "x")
	require.NoError(t, err)

	_, err = f.dunning.HandleDecline(context.Background(), f.reloadOrder(t, order.ID), 3, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
