// Package memory provides in-memory implementations of the domain
// repositories. They back unit tests across packages and keep the same
// not-found semantics as the Postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
)

// Store holds every entity the billing engine touches.
type Store struct {
	mu             sync.Mutex
	orders         map[uuid.UUID]*domain.Order
	subscriptions  map[uuid.UUID]*domain.Subscription
	schedules      map[uuid.UUID]*schedule.Schedule
	paymentMethods map[uuid.UUID]*domain.PaymentMethod
	payments       []domain.Payment

	// Writes counts Create and Save calls across all repositories.
	Writes int

	// SaveSubscriptionErr, when set, is returned by Subscriptions().Save
	// for the given subscription id.
	SaveSubscriptionErr map[uuid.UUID]error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		orders:              make(map[uuid.UUID]*domain.Order),
		subscriptions:       make(map[uuid.UUID]*domain.Subscription),
		schedules:           make(map[uuid.UUID]*schedule.Schedule),
		paymentMethods:      make(map[uuid.UUID]*domain.PaymentMethod),
		SaveSubscriptionErr: make(map[uuid.UUID]error),
	}
}

// Orders returns the order repository view.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s} }

// Subscriptions returns the subscription repository view.
func (s *Store) Subscriptions() *SubscriptionRepository { return &SubscriptionRepository{s} }

// Schedules returns the schedule repository view.
func (s *Store) Schedules() *ScheduleRepository { return &ScheduleRepository{s} }

// PaymentMethods returns the payment method repository view.
func (s *Store) PaymentMethods() *PaymentMethodRepository { return &PaymentMethodRepository{s} }

// Payments returns the payment repository view.
func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s} }

// PutSchedule seeds a schedule.
func (s *Store) PutSchedule(sched *schedule.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sched
	s.schedules[sched.ID] = &c
}

// PutPaymentMethod seeds a payment method.
func (s *Store) PutPaymentMethod(pm *domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *pm
	s.paymentMethods[pm.ID] = &c
}

// DeletePaymentMethod removes a payment method, as when a customer detaches a card.
func (s *Store) DeletePaymentMethod(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paymentMethods, id)
}

// PutSubscription seeds a subscription without counting a write.
func (s *Store) PutSubscription(sub *domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = cloneSubscription(sub)
}

// PutOrder seeds an order without counting a write.
func (s *Store) PutOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// ResetWrites zeroes the write counter.
func (s *Store) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes = 0
}

func cloneSubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	c.OrderIDs = append([]uuid.UUID(nil), sub.OrderIDs...)
	if sub.Extra != nil {
		c.Extra = make(map[string]string, len(sub.Extra))
		for k, v := range sub.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// OrderRepository implements domain.OrderRepository.
type OrderRepository struct{ s *Store }

var _ domain.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) Create(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[o.ID]; exists {
		return domain.Conflict("order.create", "order already exists")
	}
	r.s.orders[o.ID] = o.Clone()
	r.s.Writes++
	return nil
}

func (r *OrderRepository) Save(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[o.ID]; !exists {
		return domain.ErrOrderNotFound
	}
	r.s.orders[o.ID] = o.Clone()
	r.s.Writes++
	return nil
}

func (r *OrderRepository) FindDraft(_ context.Context, key domain.OrderKey, period domain.BillingPeriod) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.State == domain.OrderStateDraft && o.Key() == key && o.BillingPeriod.Start().Equal(period.Start()) {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (r *OrderRepository) ListDrafts(_ context.Context) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.State == domain.OrderStateDraft {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SubscriptionRepository implements domain.SubscriptionRepository.
type SubscriptionRepository struct{ s *Store }

var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)

func (r *SubscriptionRepository) Get(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (r *SubscriptionRepository) Save(_ context.Context, sub *domain.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.SaveSubscriptionErr[sub.ID]; err != nil {
		return err
	}
	r.s.subscriptions[sub.ID] = cloneSubscription(sub)
	r.s.Writes++
	return nil
}

func (r *SubscriptionRepository) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.HasOrder(orderID) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sortSubscriptions(out)
	return out, nil
}

func (r *SubscriptionRepository) ListActive(_ context.Context) ([]*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.State.IsActiveLike() {
			out = append(out, cloneSubscription(sub))
		}
	}
	sortSubscriptions(out)
	return out, nil
}

func sortSubscriptions(subs []*domain.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID.String() < subs[j].ID.String()
	})
}

// ScheduleRepository implements schedule.Repository.
type ScheduleRepository struct{ s *Store }

var _ schedule.Repository = (*ScheduleRepository)(nil)

func (r *ScheduleRepository) Get(_ context.Context, id uuid.UUID) (*schedule.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.schedules[id]
	if !ok {
		return nil, schedule.ErrScheduleNotFound
	}
	c := *sched
	return &c, nil
}

// Create stores a validated schedule, assigning an id when missing.
func (r *ScheduleRepository) Create(_ context.Context, sched *schedule.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *sched
	r.s.schedules[c.ID] = &c
	return nil
}

// PaymentMethodRepository implements domain.PaymentMethodRepository.
type PaymentMethodRepository struct{ s *Store }

var _ domain.PaymentMethodRepository = (*PaymentMethodRepository)(nil)

func (r *PaymentMethodRepository) Get(_ context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pm, ok := r.s.paymentMethods[id]
	if !ok {
		return nil, domain.ErrPaymentMethodNotFound
	}
	c := *pm
	return &c, nil
}

// Create stores a payment method, assigning an id when missing.
func (r *PaymentMethodRepository) Create(_ context.Context, pm *domain.PaymentMethod) error {
	if pm.ID == uuid.Nil {
		pm.ID = uuid.New()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *pm
	r.s.paymentMethods[c.ID] = &c
	return nil
}

// PaymentRepository implements domain.PaymentRepository.
type PaymentRepository struct{ s *Store }

var _ domain.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(_ context.Context, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.payments = append(r.s.payments, *p)
	r.s.Writes++
	return nil
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}
