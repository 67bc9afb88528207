package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/recurring/internal/domain"
)

// PaymentMethodRepository stores customer payment methods.
type PaymentMethodRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check that PaymentMethodRepository implements domain.PaymentMethodRepository.
var _ domain.PaymentMethodRepository = (*PaymentMethodRepository)(nil)

func (r *PaymentMethodRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, gateway_id, remote_id, remote_customer_id, billing_profile_id, reusable, expires_at
		 FROM payment_methods WHERE id = $1`, id,
	).Scan(&pm.ID, &pm.CustomerID, &pm.GatewayID, &pm.RemoteID, &pm.RemoteCustomerID,
		&pm.BillingProfileID, &pm.Reusable, &pm.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.WithOp(domain.ErrPaymentMethodNotFound, "payment_method.get")
	}
	if err != nil {
		return nil, domain.Internal(err, "payment_method.get", "failed to get payment method")
	}
	return &pm, nil
}

func (r *PaymentMethodRepository) Create(ctx context.Context, pm *domain.PaymentMethod) error {
	if pm.ID == uuid.Nil {
		pm.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_methods (id, customer_id, gateway_id, remote_id, remote_customer_id, billing_profile_id, reusable, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pm.ID, pm.CustomerID, pm.GatewayID, pm.RemoteID, pm.RemoteCustomerID, pm.BillingProfileID, pm.Reusable, pm.ExpiresAt,
	)
	if err != nil {
		return domain.Internal(err, "payment_method.create", "failed to create payment method")
	}
	return nil
}

// PaymentRepository records captured payments.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check that PaymentRepository implements domain.PaymentRepository.
var _ domain.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (id, order_id, payment_method_id, gateway_id, remote_id, amount, currency_code, state, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrderID, p.PaymentMethodID, p.GatewayID, p.RemoteID,
		p.Amount.Amount, p.Amount.Currency, string(p.State), p.CompletedAt,
	)
	if err != nil {
		return domain.Internal(err, "payment.create", "failed to record payment")
	}
	return nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, payment_method_id, gateway_id, remote_id, amount::text, currency_code, state, completed_at
		 FROM payments WHERE order_id = $1 ORDER BY completed_at, id`, orderID)
	if err != nil {
		return nil, domain.Internal(err, "payment.list", "failed to list payments")
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var (
			p      domain.Payment
			amount string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PaymentMethodID, &p.GatewayID, &p.RemoteID,
			&amount, &p.Amount.Currency, &p.State, &p.CompletedAt); err != nil {
			return nil, domain.Internal(err, "payment.list", "failed to scan payment")
		}
		if p.Amount.Amount, err = parseDecimal(amount); err != nil {
			return nil, domain.Internal(fmt.Errorf("amount: %w", err), "payment.list", "failed to scan payment")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "payment.list", "failed to list payments")
	}
	return out, nil
}
