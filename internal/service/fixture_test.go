package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/recurring/internal/billing"
	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/memory"
	"github.com/dukerupert/recurring/internal/schedule"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptrTime(t time.Time) *time.Time { return &t }

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) declines() []domain.PaymentDeclinedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.PaymentDeclinedEvent
	for _, e := range p.events {
		if d, ok := e.(domain.PaymentDeclinedEvent); ok {
			out = append(out, d)
		}
	}
	return out
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	store   *memory.Store
	gateway *billing.MockGateway
	events  *recordingPublisher
	svc     RecurringOrderService
	dunning *DunningCoordinator
	sched   *schedule.Schedule
	pm      *domain.PaymentMethod

	storeID    uuid.UUID
	customerID uuid.UUID
	now        time.Time
}

func hourlySchedule() *schedule.Schedule {
	return &schedule.Schedule{
		ID:       uuid.New(),
		Label:    "Hourly",
		Plugin:   schedule.PluginFixed,
		Interval: schedule.Interval{Number: 1, Unit: schedule.UnitHour},
	}
}

func newFixture(t *testing.T, sched *schedule.Schedule) *fixture {
	t.Helper()

	f := &fixture{
		store:      memory.NewStore(),
		gateway:    billing.NewMockGateway(),
		events:     &recordingPublisher{},
		sched:      sched,
		storeID:    uuid.New(),
		customerID: uuid.New(),
		now:        ts("2017-02-24 17:45:00"),
	}
	f.pm = &domain.PaymentMethod{
		ID:         uuid.New(),
		CustomerID: f.customerID,
		GatewayID:  "mock",
		RemoteID:   "pm_card_visa",
		Reusable:   true,
	}
	f.store.PutSchedule(sched)
	f.store.PutPaymentMethod(f.pm)

	deps := RecurringOrderDeps{
		Orders:         f.store.Orders(),
		Subscriptions:  f.store.Subscriptions(),
		Schedules:      f.store.Schedules(),
		PaymentMethods: f.store.PaymentMethods(),
		Payments:       f.store.Payments(),
		Gateway:        f.gateway,
		Types:          DefaultRegistry(),
		Events:         f.events,
		Now:            func() time.Time { return f.now },
	}
	f.svc = NewRecurringOrderService(deps)
	f.dunning = NewDunningCoordinator(deps)
	return f
}

// newSub stores an active standalone subscription priced 2.00 USD × 2.
func (f *fixture) newSub(mods ...func(*domain.Subscription)) *domain.Subscription {
	pmID := f.pm.ID
	sub := &domain.Subscription{
		ID:              uuid.New(),
		Type:            TypeStandalone,
		StoreID:         f.storeID,
		ScheduleID:      f.sched.ID,
		CustomerID:      f.customerID,
		PaymentMethodID: &pmID,
		Title:           "My subscription",
		Quantity:        decimal.NewFromInt(2),
		UnitPrice:       domain.MustMoney("2.00", "USD"),
		State:           domain.SubscriptionStateActive,
		StartTime:       ts("2017-02-24 17:30:00"),
		CreatedAt:       ts("2017-02-24 17:30:00"),
	}
	for _, mod := range mods {
		mod(sub)
	}
	f.store.PutSubscription(sub)
	return sub
}

func (f *fixture) reloadOrder(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.store.Orders().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return o
}

func (f *fixture) reloadSub(t *testing.T, id uuid.UUID) *domain.Subscription {
	t.Helper()
	s, err := f.store.Subscriptions().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	return s
}
