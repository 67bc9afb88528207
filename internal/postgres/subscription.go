package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/recurring/internal/domain"
)

// SubscriptionRepository stores subscriptions and their order links.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check that SubscriptionRepository implements domain.SubscriptionRepository.
var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)

const subscriptionColumns = `s.id, s.type, s.store_id, s.billing_schedule_id, s.customer_id, s.payment_method_id,
	s.purchased_item_type, s.purchased_item_id, s.title, s.quantity::text, s.unit_price::text, s.currency_code,
	s.state, s.start_time, s.end_time, s.renewed_time, s.extra, s.created_at,
	COALESCE((SELECT array_agg(so.order_id ORDER BY so.position) FROM subscription_orders so WHERE so.subscription_id = s.id), '{}')`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub              domain.Subscription
		itemType, itemID *string
		quantity, price  string
		extra            []byte
	)
	err := row.Scan(&sub.ID, &sub.Type, &sub.StoreID, &sub.ScheduleID, &sub.CustomerID, &sub.PaymentMethodID,
		&itemType, &itemID, &sub.Title, &quantity, &price, &sub.UnitPrice.Currency,
		&sub.State, &sub.StartTime, &sub.EndTime, &sub.RenewedTime, &extra, &sub.CreatedAt,
		&sub.OrderIDs)
	if err != nil {
		return nil, err
	}

	sub.PurchasedItem = refFromColumns(itemType, itemID)
	if sub.Quantity, err = parseDecimal(quantity); err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	if sub.UnitPrice.Amount, err = parseDecimal(price); err != nil {
		return nil, fmt.Errorf("unit_price: %w", err)
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &sub.Extra); err != nil {
			return nil, fmt.Errorf("extra: %w", err)
		}
	}
	return &sub, nil
}

func (r *SubscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.WithOp(domain.ErrSubscriptionNotFound, "subscription.get")
	}
	if err != nil {
		return nil, domain.Internal(err, "subscription.get", "failed to get subscription")
	}
	return sub, nil
}

// Save inserts or updates the subscription and replaces its order links.
func (r *SubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	extra := []byte("{}")
	if len(sub.Extra) > 0 {
		var err error
		if extra, err = json.Marshal(sub.Extra); err != nil {
			return domain.Internal(err, "subscription.save", "failed to encode subscription extra")
		}
	}
	itemType, itemID := refColumns(sub.PurchasedItem)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO subscriptions (id, type, store_id, billing_schedule_id, customer_id, payment_method_id,
				purchased_item_type, purchased_item_id, title, quantity, unit_price, currency_code,
				state, start_time, end_time, renewed_time, extra, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			 ON CONFLICT (id) DO UPDATE SET
				type = EXCLUDED.type,
				payment_method_id = EXCLUDED.payment_method_id,
				purchased_item_type = EXCLUDED.purchased_item_type,
				purchased_item_id = EXCLUDED.purchased_item_id,
				title = EXCLUDED.title,
				quantity = EXCLUDED.quantity,
				unit_price = EXCLUDED.unit_price,
				currency_code = EXCLUDED.currency_code,
				state = EXCLUDED.state,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				renewed_time = EXCLUDED.renewed_time,
				extra = EXCLUDED.extra`,
			sub.ID, sub.Type, sub.StoreID, sub.ScheduleID, sub.CustomerID, sub.PaymentMethodID,
			itemType, itemID, sub.Title, sub.Quantity, sub.UnitPrice.Amount, sub.UnitPrice.Currency,
			string(sub.State), sub.StartTime, sub.EndTime, sub.RenewedTime, extra, sub.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM subscription_orders WHERE subscription_id = $1`, sub.ID); err != nil {
			return fmt.Errorf("clear order links: %w", err)
		}
		for i, orderID := range sub.OrderIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO subscription_orders (subscription_id, order_id, position) VALUES ($1, $2, $3)`,
				sub.ID, orderID, i,
			); err != nil {
				return fmt.Errorf("link order %s: %w", orderID, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Internal(err, "subscription.save", "failed to save subscription")
	}
	return nil
}

func (r *SubscriptionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Subscription, error) {
	return r.list(ctx, "subscription.list_by_order",
		`SELECT `+subscriptionColumns+` FROM subscriptions s
		 JOIN subscription_orders link ON link.subscription_id = s.id
		 WHERE link.order_id = $1
		 ORDER BY s.created_at, s.id`, orderID)
}

func (r *SubscriptionRepository) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	return r.list(ctx, "subscription.list_active",
		`SELECT `+subscriptionColumns+` FROM subscriptions s
		 WHERE s.state IN ('active', 'trial')
		 ORDER BY s.created_at, s.id`)
}

func (r *SubscriptionRepository) list(ctx context.Context, op, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list subscriptions")
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan subscription")
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list subscriptions")
	}
	return out, nil
}
