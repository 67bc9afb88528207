package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/recurring/internal/billing"
	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
	"github.com/dukerupert/recurring/internal/telemetry"
)

// recurringOrderService implements RecurringOrderService interface
type recurringOrderService struct {
	orders         domain.OrderRepository
	subscriptions  domain.SubscriptionRepository
	schedules      schedule.Repository
	paymentMethods domain.PaymentMethodRepository
	payments       domain.PaymentRepository
	gateway        billing.Gateway
	types          *Registry
	events         domain.EventPublisher
	metrics        *telemetry.BusinessMetrics
	logger         *slog.Logger
	now            func() time.Time
}

// NewRecurringOrderService creates a new RecurringOrderService instance
func NewRecurringOrderService(deps RecurringOrderDeps) RecurringOrderService {
	s := &recurringOrderService{
		orders:         deps.Orders,
		subscriptions:  deps.Subscriptions,
		schedules:      deps.Schedules,
		paymentMethods: deps.PaymentMethods,
		payments:       deps.Payments,
		gateway:        deps.Gateway,
		types:          deps.Types,
		events:         deps.Events,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            deps.Now,
	}
	if s.types == nil {
		s.types = DefaultRegistry()
	}
	if s.events == nil {
		s.events = discardEvents{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// EnsureOrder returns the draft order for the subscription's current period.
//
// Flow:
//  1. Resolve the billing schedule and the period (first order anchored to start)
//  2. Look up a shareable draft by order key and period start
//  3. Create the draft if none exists
//  4. Link the subscription and refresh the order
func (s *recurringOrderService) EnsureOrder(ctx context.Context, sub *domain.Subscription) (*domain.Order, error) {
	sched, err := s.schedules.Get(ctx, sub.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get billing schedule: %w", err)
	}

	now := s.now()
	var period domain.BillingPeriod
	if len(sub.OrderIDs) == 0 {
		period = sched.FirstPeriod(sub.StartTime)
	} else {
		period = sched.PeriodFor(sub.StartTime, now, nil)
	}

	order, err := s.orders.FindDraft(ctx, domain.KeyForSubscription(sub), period)
	if err != nil {
		return nil, fmt.Errorf("failed to find draft order: %w", err)
	}

	if order == nil {
		order = newRecurringOrder(sub, period, now)
		if err := s.orders.Create(ctx, order); err != nil {
			return nil, fmt.Errorf("failed to create recurring order: %w", err)
		}
		s.metrics.OrderCreated("ensure")
		s.logger.Info("recurring order created",
			"order_id", order.ID,
			"subscription_id", sub.ID,
			"period", period.String(),
		)
	} else if sub.HasOrder(order.ID) {
		return order, nil
	}

	sub.AddOrder(order.ID)
	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to link subscription to order: %w", err)
	}

	if err := s.RefreshOrder(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// StartRecurring activates a subscription and creates its first order.
func (s *recurringOrderService) StartRecurring(ctx context.Context, sub *domain.Subscription) (*domain.Order, error) {
	typ, err := s.types.Get(sub.Type)
	if err != nil {
		return nil, err
	}

	if sub.State == domain.SubscriptionStatePending {
		if err := typ.OnSubscriptionCreate(ctx, sub); err != nil {
			return nil, err
		}
		if err := sub.ApplyTransition(domain.SubscriptionTransitionActivate); err != nil {
			return nil, err
		}
		if err := s.subscriptions.Save(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to save subscription: %w", err)
		}
		s.metrics.SubscriptionStateChanged(string(sub.State))
	}

	if !sub.State.IsActiveLike() {
		return nil, domain.WithOp(ErrSubscriptionInactive, "recurring.start")
	}

	order, err := s.EnsureOrder(ctx, sub)
	if err != nil {
		return nil, err
	}

	if err := typ.OnSubscriptionActivate(ctx, sub, order); err != nil {
		return nil, fmt.Errorf("failed to activate subscription: %w", err)
	}

	return order, nil
}

// RefreshOrder reconciles order items with the current subscription charges.
func (s *recurringOrderService) RefreshOrder(ctx context.Context, order *domain.Order) error {
	if order.State != domain.OrderStateDraft {
		return nil
	}

	sched, err := s.schedules.Get(ctx, order.ScheduleID)
	if err != nil {
		return fmt.Errorf("failed to get billing schedule: %w", err)
	}

	subs, err := s.CollectSubscriptions(ctx, order)
	if err != nil {
		return err
	}

	// Existing items per subscription, in order, so ids are reused positionally.
	existing := make(map[uuid.UUID][]uuid.UUID)
	for _, item := range order.Items {
		existing[item.SubscriptionID] = append(existing[item.SubscriptionID], item.ID)
	}

	var (
		items       []domain.OrderItem
		contributor *domain.Subscription
	)
	for _, sub := range subs {
		if !collectsFrom(sched, sub) {
			continue
		}

		typ, err := s.types.Get(sub.Type)
		if err != nil {
			return err
		}
		charges, err := typ.CollectCharges(sub, order.BillingPeriod)
		if err != nil {
			return fmt.Errorf("failed to collect charges for subscription %s: %w", sub.ID, err)
		}
		if len(charges) > 0 && contributor == nil {
			contributor = sub
		}

		ids := existing[sub.ID]
		for i, charge := range charges {
			id := uuid.New()
			if i < len(ids) {
				id = ids[i]
			}
			items = append(items, domain.OrderItem{
				ID:             id,
				SubscriptionID: sub.ID,
				PurchasedItem:  charge.PurchasedItem(),
				Title:          charge.Title(),
				Quantity:       charge.Quantity(),
				UnitPrice:      charge.UnitPrice(),
				BillingPeriod:  charge.BillingPeriod(),
			})
		}
	}

	before := order.Clone()
	order.Items = items

	if len(items) == 0 {
		if err := order.ApplyTransition(domain.OrderTransitionCancel, s.now()); err != nil {
			return err
		}
		order.ClearPayment()
	} else if err := s.applyPaymentMethod(ctx, order, contributor); err != nil {
		return err
	}

	if !orderChanged(before, order) {
		return nil
	}

	order.UpdatedAt = s.now()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save recurring order: %w", err)
	}

	if order.State == domain.OrderStateCanceled {
		s.metrics.OrderCanceled(string(sched.Type()))
		s.logger.Info("recurring order canceled, no charges left", "order_id", order.ID)
	} else {
		s.metrics.OrderRefreshed(string(sched.Type()))
	}

	return nil
}

// collectsFrom reports whether sub contributes charges to orders of sched.
// Postpaid orders still bill ended subscriptions up to their end time.
func collectsFrom(sched *schedule.Schedule, sub *domain.Subscription) bool {
	if sub.State.IsActiveLike() {
		return true
	}
	return sched.Type() == schedule.BillingTypePostpaid && sub.State.IsEnded()
}

// applyPaymentMethod copies payment details from the subscription's
// payment method, clearing them when it is missing.
func (s *recurringOrderService) applyPaymentMethod(ctx context.Context, order *domain.Order, sub *domain.Subscription) error {
	if sub == nil || sub.PaymentMethodID == nil {
		order.ClearPayment()
		return nil
	}

	pm, err := s.paymentMethods.Get(ctx, *sub.PaymentMethodID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			order.ClearPayment()
			return nil
		}
		return fmt.Errorf("failed to get payment method: %w", err)
	}

	id := pm.ID
	order.PaymentMethodID = &id
	order.PaymentGatewayID = pm.GatewayID
	order.BillingProfileID = nil
	if pm.BillingProfileID != nil {
		profile := *pm.BillingProfileID
		order.BillingProfileID = &profile
	}
	return nil
}

// CloseOrder captures payment for the order and completes it.
func (s *recurringOrderService) CloseOrder(ctx context.Context, order *domain.Order, opts ...CloseOption) error {
	const op = "recurring.close"

	switch order.State {
	case domain.OrderStateCompleted, domain.OrderStateCanceled:
		return nil
	case domain.OrderStateFailed:
		return domain.WithOp(ErrOrderNotDraft, op)
	}

	options := closeOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	pm, err := s.resolvePaymentMethod(ctx, order)
	if err != nil {
		return err
	}

	now := s.now()
	total := order.Total()

	var paymentID uuid.UUID
	if !total.IsZero() {
		start := time.Now()
		result, err := s.gateway.Capture(ctx, billing.CaptureParams{
			OrderID:        order.ID,
			Amount:         total,
			PaymentMethod:  pm,
			Description:    fmt.Sprintf("Recurring order %s", order.BillingPeriod),
			IdempotencyKey: billing.CaptureIdempotencyKey(order.ID, options.attempt),
			Metadata: map[string]string{
				"store_id":    order.StoreID.String(),
				"customer_id": order.CustomerID.String(),
			},
		})
		s.metrics.PaymentAttempt(s.gateway.ID(), time.Since(start))
		if err != nil {
			if decline, ok := billing.AsDecline(err); ok {
				s.logger.Warn("recurring payment declined",
					"order_id", order.ID,
					"attempt", options.attempt,
					"hard", decline.Hard,
					"reason", decline.Reason,
				)
				return domain.WrapError(err, domain.EDECLINE, op, decline.Reason)
			}
			return fmt.Errorf("failed to capture payment: %w", err)
		}

		payment := &domain.Payment{
			ID:              uuid.New(),
			OrderID:         order.ID,
			PaymentMethodID: pm.ID,
			GatewayID:       s.gateway.ID(),
			RemoteID:        result.RemoteID,
			Amount:          total,
			State:           domain.PaymentStateCompleted,
			CompletedAt:     now,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		paymentID = payment.ID
	}

	if err := order.ApplyTransition(domain.OrderTransitionPlace, now); err != nil {
		return err
	}
	order.UpdatedAt = now
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save recurring order: %w", err)
	}

	total = total.Round()
	s.metrics.OrderClosed(total.Currency, total.Amount.InexactFloat64(), total.MinorUnits())
	s.events.Publish(ctx, domain.OrderClosedEvent{
		OrderID:    order.ID,
		PaymentID:  paymentID,
		Total:      total,
		OccurredAt: now,
	})
	s.logger.Info("recurring order closed", "order_id", order.ID, "total", total.String())

	return nil
}

// resolvePaymentMethod loads the order's payment method, mapping a missing
// reference or record to ErrNoPaymentMethod.
func (s *recurringOrderService) resolvePaymentMethod(ctx context.Context, order *domain.Order) (*domain.PaymentMethod, error) {
	const op = "recurring.close"

	if order.PaymentMethodID == nil {
		return nil, domain.WithOp(ErrNoPaymentMethod, op)
	}
	pm, err := s.paymentMethods.Get(ctx, *order.PaymentMethodID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentMethodNotFound) {
			return nil, domain.WithOp(ErrNoPaymentMethod, op)
		}
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return pm, nil
}

// RenewOrder creates the next order after order.
//
// Flow:
//  1. Re-read linked subscriptions; stop when none is active
//  2. Compute the next period from the order's period
//  3. Return the existing draft for that period if there is one
//  4. Otherwise create it, link subscriptions, refresh, run renew hooks
func (s *recurringOrderService) RenewOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	subs, err := s.CollectSubscriptions(ctx, order)
	if err != nil {
		return nil, err
	}

	var active []*domain.Subscription
	for _, sub := range subs {
		if sub.State.IsActiveLike() {
			active = append(active, sub)
		}
	}
	if len(active) == 0 {
		s.metrics.OrderRenewed("skipped")
		s.logger.Info("recurring order not renewed, no active subscriptions", "order_id", order.ID)
		return nil, nil
	}

	sched, err := s.schedules.Get(ctx, order.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get billing schedule: %w", err)
	}

	now := s.now()
	period := order.BillingPeriod
	next := sched.PeriodFor(active[0].StartTime, now, &period)

	existing, err := s.orders.FindDraft(ctx, order.Key(), next)
	if err != nil {
		return nil, fmt.Errorf("failed to find draft order: %w", err)
	}
	if existing != nil {
		s.metrics.OrderRenewed("existing")
		return existing, nil
	}

	nextOrder := &domain.Order{
		ID:            uuid.New(),
		Kind:          domain.OrderKindRecurring,
		StoreID:       order.StoreID,
		ScheduleID:    order.ScheduleID,
		CustomerID:    order.CustomerID,
		Currency:      order.Currency,
		BillingPeriod: next,
		State:         domain.OrderStateDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.PaymentMethodID != nil {
		id := *order.PaymentMethodID
		nextOrder.PaymentMethodID = &id
	}
	if err := s.orders.Create(ctx, nextOrder); err != nil {
		return nil, fmt.Errorf("failed to create recurring order: %w", err)
	}
	s.metrics.OrderCreated("renew")

	for _, sub := range active {
		sub.AddOrder(nextOrder.ID)
		if err := s.subscriptions.Save(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to link subscription to order: %w", err)
		}
	}

	if err := s.RefreshOrder(ctx, nextOrder); err != nil {
		return nil, err
	}

	for _, sub := range active {
		typ, err := s.types.Get(sub.Type)
		if err != nil {
			return nil, err
		}
		if err := typ.OnSubscriptionRenew(ctx, sub, order, nextOrder); err != nil {
			return nil, fmt.Errorf("failed to renew subscription %s: %w", sub.ID, err)
		}
		renewed := now
		sub.RenewedTime = &renewed
		if err := s.subscriptions.Save(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to save subscription: %w", err)
		}
	}

	s.metrics.OrderRenewed("created")
	s.events.Publish(ctx, domain.OrderRenewedEvent{
		OrderID:     order.ID,
		NextOrderID: nextOrder.ID,
		NextPeriod:  next,
		OccurredAt:  now,
	})
	s.logger.Info("recurring order renewed",
		"order_id", order.ID,
		"next_order_id", nextOrder.ID,
		"period", next.String(),
	)

	return nextOrder, nil
}

// CollectSubscriptions returns the subscriptions linked to order.
func (s *recurringOrderService) CollectSubscriptions(ctx context.Context, order *domain.Order) ([]*domain.Subscription, error) {
	subs, err := s.subscriptions.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for order: %w", err)
	}
	return subs, nil
}

func newRecurringOrder(sub *domain.Subscription, period domain.BillingPeriod, now time.Time) *domain.Order {
	order := &domain.Order{
		ID:            uuid.New(),
		Kind:          domain.OrderKindRecurring,
		StoreID:       sub.StoreID,
		ScheduleID:    sub.ScheduleID,
		CustomerID:    sub.CustomerID,
		Currency:      sub.UnitPrice.Currency,
		BillingPeriod: period,
		State:         domain.OrderStateDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sub.PaymentMethodID != nil {
		id := *sub.PaymentMethodID
		order.PaymentMethodID = &id
	}
	return order
}

// orderChanged compares the fields RefreshOrder may touch.
func orderChanged(a, b *domain.Order) bool {
	if a.State != b.State || a.PaymentGatewayID != b.PaymentGatewayID ||
		!equalUUIDPtr(a.PaymentMethodID, b.PaymentMethodID) ||
		!equalUUIDPtr(a.BillingProfileID, b.BillingProfileID) ||
		len(a.Items) != len(b.Items) {
		return true
	}
	for i := range a.Items {
		if !itemEqual(a.Items[i], b.Items[i]) {
			return true
		}
	}
	return false
}

func itemEqual(a, b domain.OrderItem) bool {
	return a.ID == b.ID &&
		a.SubscriptionID == b.SubscriptionID &&
		equalRef(a.PurchasedItem, b.PurchasedItem) &&
		a.Title == b.Title &&
		a.Quantity.Equal(b.Quantity) &&
		a.UnitPrice.Equal(b.UnitPrice) &&
		a.BillingPeriod.Equal(b.BillingPeriod)
}

func equalUUIDPtr(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalRef(a, b *domain.PurchasableRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// discardEvents drops events when no publisher is configured.
type discardEvents struct{}

func (discardEvents) Publish(context.Context, domain.Event) {}
