// Package api implements the JSON ops API of the billing engine.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/jobs"
	"github.com/dukerupert/recurring/internal/middleware"
	"github.com/dukerupert/recurring/internal/schedule"
	"github.com/dukerupert/recurring/internal/service"
)

// ScheduleStore loads and creates billing schedules.
type ScheduleStore interface {
	schedule.Repository
	Create(ctx context.Context, s *schedule.Schedule) error
}

// PaymentMethodStore loads and creates payment methods.
type PaymentMethodStore interface {
	domain.PaymentMethodRepository
	Create(ctx context.Context, pm *domain.PaymentMethod) error
}

// RecurringDeps are the collaborators of RecurringHandler.
type RecurringDeps struct {
	Orders         domain.OrderRepository
	Subscriptions  domain.SubscriptionRepository
	Schedules      ScheduleStore
	PaymentMethods PaymentMethodStore
	Payments       domain.PaymentRepository
	Types          *service.Registry
	Service        service.RecurringOrderService
	Queue          jobs.Queue
	Now            func() time.Time
}

// RecurringHandler exposes recurring order operations over HTTP.
type RecurringHandler struct {
	deps RecurringDeps
}

// NewRecurringHandler creates a handler.
func NewRecurringHandler(deps RecurringDeps) *RecurringHandler {
	if deps.Types == nil {
		deps.Types = service.DefaultRegistry()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RecurringHandler{deps: deps}
}

type subscriptionResponse struct {
	ID              uuid.UUID                `json:"id"`
	Type            string                   `json:"type"`
	StoreID         uuid.UUID                `json:"store_id"`
	ScheduleID      uuid.UUID                `json:"billing_schedule_id"`
	CustomerID      uuid.UUID                `json:"customer_id"`
	PaymentMethodID *uuid.UUID               `json:"payment_method_id,omitempty"`
	PurchasedItem   *domain.PurchasableRef   `json:"purchased_item,omitempty"`
	Title           string                   `json:"title"`
	Quantity        decimal.Decimal          `json:"quantity"`
	UnitPrice       domain.Money             `json:"unit_price"`
	State           domain.SubscriptionState `json:"state"`
	StartTime       time.Time                `json:"start_time"`
	EndTime         *time.Time               `json:"end_time,omitempty"`
	OrderIDs        []uuid.UUID              `json:"order_ids"`
}

func newSubscriptionResponse(sub *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:              sub.ID,
		Type:            sub.Type,
		StoreID:         sub.StoreID,
		ScheduleID:      sub.ScheduleID,
		CustomerID:      sub.CustomerID,
		PaymentMethodID: sub.PaymentMethodID,
		PurchasedItem:   sub.PurchasedItem,
		Title:           sub.Title,
		Quantity:        sub.Quantity,
		UnitPrice:       sub.UnitPrice,
		State:           sub.State,
		StartTime:       sub.StartTime,
		EndTime:         sub.EndTime,
		OrderIDs:        sub.OrderIDs,
	}
}

type orderResponse struct {
	*domain.Order
	Total    domain.Money     `json:"total"`
	Payments []domain.Payment `json:"payments,omitempty"`
}

func (h *RecurringHandler) writeOrder(c echo.Context, status int, order *domain.Order) error {
	payments, err := h.deps.Payments.ListByOrder(c.Request().Context(), order.ID)
	if err != nil {
		return err
	}
	return c.JSON(status, orderResponse{Order: order, Total: order.Total(), Payments: payments})
}

func parseID(c echo.Context, op string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid(op, "Invalid id.")
	}
	return id, nil
}

func (h *RecurringHandler) loadOrder(c echo.Context, op string) (*domain.Order, error) {
	id, err := parseID(c, op)
	if err != nil {
		return nil, err
	}
	return h.deps.Orders.Get(c.Request().Context(), id)
}

func (h *RecurringHandler) loadSubscription(c echo.Context, op string) (*domain.Subscription, error) {
	id, err := parseID(c, op)
	if err != nil {
		return nil, err
	}
	return h.deps.Subscriptions.Get(c.Request().Context(), id)
}

// GetOrder handles GET /api/orders/:id
func (h *RecurringHandler) GetOrder(c echo.Context) error {
	order, err := h.loadOrder(c, "order.get")
	if err != nil {
		return err
	}
	return h.writeOrder(c, http.StatusOK, order)
}

// RefreshOrder handles POST /api/orders/:id/refresh
func (h *RecurringHandler) RefreshOrder(c echo.Context) error {
	order, err := h.loadOrder(c, "order.refresh")
	if err != nil {
		return err
	}
	if err := h.deps.Service.RefreshOrder(c.Request().Context(), order); err != nil {
		return err
	}
	return h.writeOrder(c, http.StatusOK, order)
}

type jobResponse struct {
	JobID       uuid.UUID `json:"job_id"`
	JobType     string    `json:"job_type"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CloseOrder handles POST /api/orders/:id/close
//
// Payment is collected by the worker; the response carries the queued job.
func (h *RecurringHandler) CloseOrder(c echo.Context) error {
	const op = "order.close"
	order, err := h.loadOrder(c, op)
	if err != nil {
		return err
	}
	if order.State != domain.OrderStateDraft {
		return domain.WithOp(service.ErrOrderNotDraft, op)
	}

	job, err := jobs.EnqueueCloseOrder(c.Request().Context(), h.deps.Queue, order.ID, h.deps.Now())
	if errors.Is(err, jobs.ErrDuplicateJob) {
		return domain.Conflict(op, "Order is already queued for closing.")
	}
	if err != nil {
		return domain.Internal(err, op, "failed to enqueue close job")
	}

	middleware.GetLogger(c.Request().Context()).Info("close job enqueued", "order_id", order.ID, "job_id", job.ID)
	return c.JSON(http.StatusAccepted, jobResponse{JobID: job.ID, JobType: job.JobType, ScheduledAt: job.ScheduledAt})
}

// RenewOrder handles POST /api/orders/:id/renew
func (h *RecurringHandler) RenewOrder(c echo.Context) error {
	order, err := h.loadOrder(c, "order.renew")
	if err != nil {
		return err
	}
	next, err := h.deps.Service.RenewOrder(c.Request().Context(), order)
	if err != nil {
		return err
	}
	if next == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return h.writeOrder(c, http.StatusOK, next)
}

// EnsureOrder handles POST /api/subscriptions/:id/ensure-order
func (h *RecurringHandler) EnsureOrder(c echo.Context) error {
	sub, err := h.loadSubscription(c, "subscription.ensure_order")
	if err != nil {
		return err
	}
	order, err := h.deps.Service.EnsureOrder(c.Request().Context(), sub)
	if err != nil {
		return err
	}
	return h.writeOrder(c, http.StatusOK, order)
}

// GetSubscription handles GET /api/subscriptions/:id
func (h *RecurringHandler) GetSubscription(c echo.Context) error {
	sub, err := h.loadSubscription(c, "subscription.get")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

type createSubscriptionRequest struct {
	Type            string                 `json:"type" validate:"required"`
	StoreID         uuid.UUID              `json:"store_id" validate:"required"`
	ScheduleID      uuid.UUID              `json:"billing_schedule_id" validate:"required"`
	CustomerID      uuid.UUID              `json:"customer_id" validate:"required"`
	PaymentMethodID *uuid.UUID             `json:"payment_method_id"`
	PurchasedItem   *domain.PurchasableRef `json:"purchased_item"`
	Title           string                 `json:"title"`
	Quantity        decimal.Decimal        `json:"quantity"`
	UnitPrice       domain.Money           `json:"unit_price"`
	StartTime       *time.Time             `json:"start_time"`
	Extra           map[string]string      `json:"extra"`
}

type createSubscriptionResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	Order        *domain.Order        `json:"order"`
}

// CreateSubscription handles POST /api/subscriptions
//
// The subscription is stored pending and then started, which opens its
// first recurring order.
func (h *RecurringHandler) CreateSubscription(c echo.Context) error {
	const op = "subscription.create"
	ctx := c.Request().Context()

	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid(op, "Malformed request body.")
	}
	if err := domain.ValidateStruct(op, req); err != nil {
		return err
	}
	if !req.Quantity.IsPositive() {
		return domain.NewValidationError(op, "quantity", `Invalid value for property "quantity".`)
	}
	if req.UnitPrice.Currency == "" || req.UnitPrice.Amount.IsNegative() {
		return domain.NewValidationError(op, "unit_price", `Invalid value for property "unit_price".`)
	}
	if _, err := h.deps.Types.Get(req.Type); err != nil {
		return err
	}
	if _, err := h.deps.Schedules.Get(ctx, req.ScheduleID); err != nil {
		return err
	}

	now := h.deps.Now()
	sub := &domain.Subscription{
		ID:              uuid.New(),
		Type:            req.Type,
		StoreID:         req.StoreID,
		ScheduleID:      req.ScheduleID,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		PurchasedItem:   req.PurchasedItem,
		Title:           req.Title,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		State:           domain.SubscriptionStatePending,
		StartTime:       now,
		CreatedAt:       now,
		Extra:           req.Extra,
	}
	if req.StartTime != nil {
		sub.StartTime = req.StartTime.UTC()
	}
	if err := h.deps.Subscriptions.Save(ctx, sub); err != nil {
		return err
	}

	order, err := h.deps.Service.StartRecurring(ctx, sub)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createSubscriptionResponse{
		Subscription: newSubscriptionResponse(sub),
		Order:        order,
	})
}

// CreateSchedule handles POST /api/schedules
func (h *RecurringHandler) CreateSchedule(c echo.Context) error {
	var sched schedule.Schedule
	if err := c.Bind(&sched); err != nil {
		return domain.Invalid("schedule.create", "Malformed request body.")
	}
	sched.ID = uuid.Nil
	if err := h.deps.Schedules.Create(c.Request().Context(), &sched); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sched)
}

type createPaymentMethodRequest struct {
	CustomerID       uuid.UUID  `json:"customer_id" validate:"required"`
	GatewayID        string     `json:"gateway_id" validate:"required"`
	RemoteID         string     `json:"remote_id" validate:"required"`
	RemoteCustomerID string     `json:"remote_customer_id"`
	BillingProfileID *uuid.UUID `json:"billing_profile_id"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

type paymentMethodResponse struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	GatewayID  string    `json:"gateway_id"`
}

// CreatePaymentMethod handles POST /api/payment-methods
func (h *RecurringHandler) CreatePaymentMethod(c echo.Context) error {
	const op = "payment_method.create"

	var req createPaymentMethodRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid(op, "Malformed request body.")
	}
	if err := domain.ValidateStruct(op, req); err != nil {
		return err
	}

	pm := &domain.PaymentMethod{
		CustomerID:       req.CustomerID,
		GatewayID:        req.GatewayID,
		RemoteID:         req.RemoteID,
		RemoteCustomerID: req.RemoteCustomerID,
		BillingProfileID: req.BillingProfileID,
		Reusable:         true,
		ExpiresAt:        req.ExpiresAt,
	}
	if err := h.deps.PaymentMethods.Create(c.Request().Context(), pm); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, paymentMethodResponse{ID: pm.ID, CustomerID: pm.CustomerID, GatewayID: pm.GatewayID})
}
