package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/recurring/internal/billing"
	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
)

func TestEnsureOrder_ProratesFirstPeriod(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	sub := f.newSub()

	order, err := f.svc.EnsureOrder(context.Background(), sub)
	require.NoError(t, err)

	order = f.reloadOrder(t, order.ID)
	assert.Equal(t, domain.OrderKindRecurring, order.Kind)
	assert.Equal(t, domain.OrderStateDraft, order.State)
	assert.True(t, order.BillingPeriod.Equal(domain.MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:00"))))

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, sub.ID, item.SubscriptionID)
	assert.Equal(t, "My subscription", item.Title)
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, item.UnitPrice.Equal(domain.MustMoney("1.00", "USD")), "got %s", item.UnitPrice)
	assert.True(t, item.BillingPeriod.Equal(domain.MustBillingPeriod(ts("2017-02-24 17:30:00"), ts("2017-02-24 18:00:00"))))
	assert.Equal(t, "2.00 USD", order.Total().String())

	require.NotNil(t, order.PaymentMethodID)
	assert.Equal(t, f.pm.ID, *order.PaymentMethodID)
	assert.Equal(t, "mock", order.PaymentGatewayID)

	assert.True(t, f.reloadSub(t, sub.ID).HasOrder(order.ID))
}

func TestEnsureOrder_SharesOrderByKey(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()

	first := f.newSub()
	second := f.newSub(func(s *domain.Subscription) { s.Title = "Second" })

	otherPM := &domain.PaymentMethod{ID: uuid.New(), CustomerID: f.customerID, GatewayID: "mock", RemoteID: "pm_other"}
	f.store.PutPaymentMethod(otherPM)
	third := f.newSub(func(s *domain.Subscription) { s.PaymentMethodID = &otherPM.ID })

	o1, err := f.svc.EnsureOrder(ctx, first)
	require.NoError(t, err)
	o2, err := f.svc.EnsureOrder(ctx, second)
	require.NoError(t, err)
	o3, err := f.svc.EnsureOrder(ctx, third)
	require.NoError(t, err)

	assert.Equal(t, o1.ID, o2.ID, "same key shares one order")
	assert.NotEqual(t, o1.ID, o3.ID, "different payment method gets its own order")
	assert.Equal(t, 2, f.store.OrderCount())
	assert.Len(t, f.reloadOrder(t, o1.ID).Items, 2)
}

func TestEnsureOrder_ExistingOrderIsNoop(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	order, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)

	f.store.ResetWrites()
	again, err := f.svc.EnsureOrder(ctx, f.reloadSub(t, sub.ID))
	require.NoError(t, err)

	assert.Equal(t, order.ID, again.ID)
	assert.Equal(t, 0, f.store.Writes)
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestRefreshOrder_Idempotent(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)
	before := f.reloadOrder(t, created.ID)

	f.store.ResetWrites()
	order := f.reloadOrder(t, created.ID)
	require.NoError(t, f.svc.RefreshOrder(ctx, order))
	require.NoError(t, f.svc.RefreshOrder(ctx, order))

	after := f.reloadOrder(t, created.ID)
	assert.Equal(t, 0, f.store.Writes)
	require.Len(t, after.Items, 1)
	assert.Equal(t, before.Items[0].ID, after.Items[0].ID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestRefreshOrder_UpdatesItemInPlace(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)
	itemID := f.reloadOrder(t, created.ID).Items[0].ID

	changed := f.reloadSub(t, sub.ID)
	changed.Quantity = decimal.NewFromInt(3)
	f.store.PutSubscription(changed)

	f.store.ResetWrites()
	order := f.reloadOrder(t, created.ID)
	require.NoError(t, f.svc.RefreshOrder(ctx, order))

	order = f.reloadOrder(t, created.ID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, itemID, order.Items[0].ID)
	assert.True(t, order.Items[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 1, f.store.Writes)
}

func TestRefreshOrder_CancelsWhenNoCharges(t *testing.T) {
	tests := []struct {
		name        string
		billingType schedule.BillingType
		endTime     time.Time
	}{
		{
			name:        "postpaid subscription ended at its start",
			billingType: schedule.BillingTypePostpaid,
			endTime:     ts("2017-02-24 17:30:00"),
		},
		{
			name:        "prepaid excludes canceled subscriptions",
			billingType: schedule.BillingTypePrepaid,
			endTime:     ts("2017-02-24 17:50:00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := hourlySchedule()
			sched.BillingType = tt.billingType
			f := newFixture(t, sched)
			ctx := context.Background()
			sub := f.newSub()

			created, err := f.svc.EnsureOrder(ctx, sub)
			require.NoError(t, err)

			canceled := f.reloadSub(t, sub.ID)
			canceled.State = domain.SubscriptionStateCanceled
			canceled.EndTime = ptrTime(tt.endTime)
			f.store.PutSubscription(canceled)

			order := f.reloadOrder(t, created.ID)
			require.NoError(t, f.svc.RefreshOrder(ctx, order))

			order = f.reloadOrder(t, created.ID)
			assert.Equal(t, domain.OrderStateCanceled, order.State)
			assert.Empty(t, order.Items)
			assert.Nil(t, order.PaymentMethodID)
			assert.Empty(t, order.PaymentGatewayID)
			assert.Nil(t, order.BillingProfileID)
		})
	}
}

func TestRefreshOrder_PostpaidProratesEndedSubscription(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)

	ended := f.reloadSub(t, sub.ID)
	ended.State = domain.SubscriptionStateCanceled
	ended.EndTime = ptrTime(ts("2017-02-24 17:45:00"))
	f.store.PutSubscription(ended)

	order := f.reloadOrder(t, created.ID)
	require.NoError(t, f.svc.RefreshOrder(ctx, order))

	order = f.reloadOrder(t, created.ID)
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(domain.MustMoney("0.50", "USD")), "got %s", order.Items[0].UnitPrice)
	assert.True(t, order.Items[0].BillingPeriod.Equal(domain.MustBillingPeriod(ts("2017-02-24 17:30:00"), ts("2017-02-24 17:45:00"))))
}

func TestRefreshOrder_PaymentMethod(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()

	profile := uuid.New()
	f.pm.BillingProfileID = &profile
	f.store.PutPaymentMethod(f.pm)
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)
	order := f.reloadOrder(t, created.ID)
	require.NotNil(t, order.BillingProfileID)
	assert.Equal(t, profile, *order.BillingProfileID)

	f.store.DeletePaymentMethod(f.pm.ID)
	require.NoError(t, f.svc.RefreshOrder(ctx, order))

	order = f.reloadOrder(t, created.ID)
	assert.Equal(t, domain.OrderStateDraft, order.State)
	assert.Nil(t, order.PaymentMethodID)
	assert.Empty(t, order.PaymentGatewayID)
	assert.Nil(t, order.BillingProfileID)
}

func TestRefreshOrder_NonDraftIsNoop(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)
	require.NoError(t, f.svc.CloseOrder(ctx, f.reloadOrder(t, created.ID)))

	f.store.ResetWrites()
	require.NoError(t, f.svc.RefreshOrder(ctx, f.reloadOrder(t, created.ID)))
	assert.Equal(t, 0, f.store.Writes)
}

func TestCloseOrder(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture, sub *domain.Subscription)
		before     func(f *fixture, order *domain.Order)
		opts       []CloseOption
		wantErr    error
		wantState  domain.OrderState
		wantCalls  int
		wantAmount string
		check      func(t *testing.T, f *fixture, order *domain.Order, err error)
	}{
		{
			name:       "captures total and completes",
			wantState:  domain.OrderStateCompleted,
			wantCalls:  1,
			wantAmount: "2.00 USD",
			check: func(t *testing.T, f *fixture, order *domain.Order, _ error) {
				assert.Equal(t, billing.CaptureIdempotencyKey(order.ID, 0), f.gateway.Captures[0].IdempotencyKey)
				assert.NotNil(t, order.CompletedAt)
				assert.Contains(t, f.events.names(), domain.EventOrderClosed)
			},
		},
		{
			name:       "attempt selects idempotency key",
			opts:       []CloseOption{WithAttempt(2)},
			wantState:  domain.OrderStateCompleted,
			wantCalls:  1,
			wantAmount: "2.00 USD",
			check: func(t *testing.T, f *fixture, order *domain.Order, _ error) {
				assert.Equal(t, billing.CaptureIdempotencyKey(order.ID, 2), f.gateway.Captures[0].IdempotencyKey)
			},
		},
		{
			name: "decline propagates and keeps draft",
			before: func(f *fixture, _ *domain.Order) {
				f.gateway.CaptureFunc = func(context.Context, billing.CaptureParams) (*billing.CaptureResult, error) {
					return nil, &billing.DeclineError{Reason: "Insufficient funds", DeclineCode: "insufficient_funds"}
				}
			},
			wantState: domain.OrderStateDraft,
			wantCalls: 1,
			check: func(t *testing.T, _ *fixture, _ *domain.Order, err error) {
				decline, ok := billing.AsDecline(err)
				require.True(t, ok)
				assert.False(t, decline.Hard)
				assert.Equal(t, domain.EDECLINE, domain.ErrorCode(err))
			},
		},
		{
			name: "payment method removed before close",
			before: func(f *fixture, _ *domain.Order) {
				f.store.DeletePaymentMethod(f.pm.ID)
			},
			wantErr:   ErrNoPaymentMethod,
			wantState: domain.OrderStateDraft,
		},
		{
			name: "subscription without payment method",
			setup: func(_ *fixture, sub *domain.Subscription) {
				sub.PaymentMethodID = nil
			},
			wantErr:   ErrNoPaymentMethod,
			wantState: domain.OrderStateDraft,
		},
		{
			name: "zero total completes without gateway",
			setup: func(_ *fixture, sub *domain.Subscription) {
				sub.UnitPrice = domain.MustMoney("0.00", "USD")
			},
			wantState: domain.OrderStateCompleted,
		},
		{
			name: "zero total still needs a payment method",
			setup: func(_ *fixture, sub *domain.Subscription) {
				sub.UnitPrice = domain.MustMoney("0.00", "USD")
				sub.PaymentMethodID = nil
			},
			wantErr:   ErrNoPaymentMethod,
			wantState: domain.OrderStateDraft,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, hourlySchedule())
			ctx := context.Background()
			sub := f.newSub(func(s *domain.Subscription) {
				if tt.setup != nil {
					tt.setup(f, s)
				}
			})

			created, err := f.svc.EnsureOrder(ctx, sub)
			require.NoError(t, err)
			order := f.reloadOrder(t, created.ID)
			if tt.before != nil {
				tt.before(f, order)
			}

			err = f.svc.CloseOrder(ctx, order, tt.opts...)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
			}
			assert.Equal(t, tt.wantCalls, f.gateway.Calls())

			stored := f.reloadOrder(t, created.ID)
			assert.Equal(t, tt.wantState, stored.State)

			payments, perr := f.store.Payments().ListByOrder(ctx, created.ID)
			require.NoError(t, perr)
			if tt.wantAmount != "" {
				require.Len(t, payments, 1)
				assert.Equal(t, tt.wantAmount, payments[0].Amount.String())
				assert.Equal(t, domain.PaymentStateCompleted, payments[0].State)
			} else {
				assert.Empty(t, payments)
			}

			if tt.check != nil {
				tt.check(t, f, stored, err)
			}
		})
	}
}

func TestCloseOrder_CompletedIsNoop(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()

	created, err := f.svc.EnsureOrder(ctx, f.newSub())
	require.NoError(t, err)
	require.NoError(t, f.svc.CloseOrder(ctx, f.reloadOrder(t, created.ID)))
	require.NoError(t, f.svc.CloseOrder(ctx, f.reloadOrder(t, created.ID)))

	assert.Equal(t, 1, f.gateway.Calls())
}

func TestCloseThenRenew(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)

	f.now = ts("2017-02-24 18:00:05")
	order := f.reloadOrder(t, created.ID)
	require.NoError(t, f.svc.CloseOrder(ctx, order))
	assert.Equal(t, domain.OrderStateCompleted, f.reloadOrder(t, created.ID).State)

	next, err := f.svc.RenewOrder(ctx, order)
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.True(t, next.BillingPeriod.Start().Equal(order.BillingPeriod.End()))
	assert.True(t, next.BillingPeriod.End().Equal(ts("2017-02-24 19:00:00")))

	stored := f.reloadOrder(t, next.ID)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].UnitPrice.Equal(domain.MustMoney("2.00", "USD")), "full period is not prorated")

	renewedSub := f.reloadSub(t, sub.ID)
	assert.True(t, renewedSub.HasOrder(next.ID))
	require.NotNil(t, renewedSub.RenewedTime)
	assert.True(t, renewedSub.RenewedTime.Equal(f.now))
	assert.Contains(t, f.events.names(), domain.EventOrderRenewed)

	again, err := f.svc.RenewOrder(ctx, order)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, next.ID, again.ID)
	assert.Equal(t, 2, f.store.OrderCount())
}

func TestRenewOrder_CanceledSubscriptionIsNoop(t *testing.T) {
	f := newFixture(t, hourlySchedule())
	ctx := context.Background()
	sub := f.newSub()

	created, err := f.svc.EnsureOrder(ctx, sub)
	require.NoError(t, err)
	require.NoError(t, f.svc.CloseOrder(ctx, f.reloadOrder(t, created.ID)))

	canceled := f.reloadSub(t, sub.ID)
	canceled.State = domain.SubscriptionStateCanceled
	canceled.EndTime = ptrTime(ts("2017-02-24 17:59:00"))
	f.store.PutSubscription(canceled)

	f.store.ResetWrites()
	next, err := f.svc.RenewOrder(ctx, f.reloadOrder(t, created.ID))

	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, 0, f.store.Writes)
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestStartRecurring(t *testing.T) {
	tests := []struct {
		name      string
		mod       func(*domain.Subscription)
		wantErr   error
		wantState domain.SubscriptionState
	}{
		{
			name: "activates pending subscription",
			mod: func(s *domain.Subscription) {
				s.State = domain.SubscriptionStatePending
			},
			wantState: domain.SubscriptionStateActive,
		},
		{
			name: "product variation requires purchased item",
			mod: func(s *domain.Subscription) {
				s.State = domain.SubscriptionStatePending
				s.Type = TypeProductVariation
			},
			wantErr:   ErrPurchasedItemRequired,
			wantState: domain.SubscriptionStatePending,
		},
		{
			name: "rejects canceled subscription",
			mod: func(s *domain.Subscription) {
				s.State = domain.SubscriptionStateCanceled
			},
			wantErr:   ErrSubscriptionInactive,
			wantState: domain.SubscriptionStateCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, hourlySchedule())
			sub := f.newSub(tt.mod)

			order, err := f.svc.StartRecurring(context.Background(), sub)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, order)
				assert.Equal(t, 0, f.store.OrderCount())
			} else {
				require.NoError(t, err)
				require.NotNil(t, order)
				assert.Len(t, f.reloadOrder(t, order.ID).Items, 1)
			}
			assert.Equal(t, tt.wantState, f.reloadSub(t, sub.ID).State)
		})
	}
}
