package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/recurring/internal/domain"
)

// OrderRepository stores recurring orders and their items.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check that OrderRepository implements domain.OrderRepository.
var _ domain.OrderRepository = (*OrderRepository)(nil)

const orderColumns = `id, kind, store_id, billing_schedule_id, customer_id, currency_code, payment_method_id,
	payment_gateway_id, billing_profile_id, period_start, period_end, state, placed_at, completed_at,
	created_at, updated_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o          domain.Order
		start, end time.Time
	)
	err := row.Scan(&o.ID, &o.Kind, &o.StoreID, &o.ScheduleID, &o.CustomerID, &o.Currency, &o.PaymentMethodID,
		&o.PaymentGatewayID, &o.BillingProfileID, &start, &end, &o.State, &o.PlacedAt, &o.CompletedAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.BillingPeriod, err = domain.NewBillingPeriod(start.UTC(), end.UTC()); err != nil {
		return nil, err
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, o *domain.Order) error {
	rows, err := q.Query(ctx,
		`SELECT id, subscription_id, purchased_item_type, purchased_item_id, title,
			quantity::text, unit_price::text, currency_code, period_start, period_end
		 FROM recurring_order_items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var (
			item             domain.OrderItem
			itemType, itemID *string
			quantity, price  string
			start, end       time.Time
		)
		if err := rows.Scan(&item.ID, &item.SubscriptionID, &itemType, &itemID, &item.Title,
			&quantity, &price, &item.UnitPrice.Currency, &start, &end); err != nil {
			return err
		}
		item.PurchasedItem = refFromColumns(itemType, itemID)
		if item.Quantity, err = parseDecimal(quantity); err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		if item.UnitPrice.Amount, err = parseDecimal(price); err != nil {
			return fmt.Errorf("unit_price: %w", err)
		}
		if item.BillingPeriod, err = domain.NewBillingPeriod(start.UTC(), end.UTC()); err != nil {
			return err
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM recurring_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.WithOp(domain.ErrOrderNotFound, "order.get")
	}
	if err != nil {
		return nil, domain.Internal(err, "order.get", "failed to get recurring order")
	}
	if err := loadItems(ctx, r.pool, o); err != nil {
		return nil, domain.Internal(err, "order.get", "failed to load order items")
	}
	return o, nil
}

// Create inserts the order and its items. A second draft for the same key
// and period is rejected with a conflict.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO recurring_orders (`+orderColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			o.ID, o.Kind, o.StoreID, o.ScheduleID, o.CustomerID, o.Currency, o.PaymentMethodID,
			o.PaymentGatewayID, o.BillingProfileID, o.BillingPeriod.Start(), o.BillingPeriod.End(),
			string(o.State), o.PlacedAt, o.CompletedAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return saveItems(ctx, tx, o)
	})
	if isDuplicateError(err) {
		return domain.Conflict("order.create", "A draft recurring order already exists for this period.")
	}
	if err != nil {
		return domain.Internal(err, "order.create", "failed to create recurring order")
	}
	return nil
}

// Save updates the order and replaces its items. Items keep their ids.
func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE recurring_orders SET
				payment_method_id = $2, payment_gateway_id = $3, billing_profile_id = $4,
				period_start = $5, period_end = $6, state = $7, placed_at = $8, completed_at = $9, updated_at = $10
			 WHERE id = $1`,
			o.ID, o.PaymentMethodID, o.PaymentGatewayID, o.BillingProfileID,
			o.BillingPeriod.Start(), o.BillingPeriod.End(), string(o.State), o.PlacedAt, o.CompletedAt, o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.WithOp(domain.ErrOrderNotFound, "order.save")
		}
		return saveItems(ctx, tx, o)
	})
	if domain.ErrorCode(err) == domain.ENOTFOUND {
		return err
	}
	if err != nil {
		return domain.Internal(err, "order.save", "failed to save recurring order")
	}
	return nil
}

func saveItems(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	keep := make([]uuid.UUID, 0, len(o.Items))
	for i, item := range o.Items {
		itemType, itemID := refColumns(item.PurchasedItem)
		_, err := tx.Exec(ctx,
			`INSERT INTO recurring_order_items (id, order_id, position, subscription_id, purchased_item_type, purchased_item_id,
				title, quantity, unit_price, currency_code, period_start, period_end)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO UPDATE SET
				position = EXCLUDED.position,
				subscription_id = EXCLUDED.subscription_id,
				purchased_item_type = EXCLUDED.purchased_item_type,
				purchased_item_id = EXCLUDED.purchased_item_id,
				title = EXCLUDED.title,
				quantity = EXCLUDED.quantity,
				unit_price = EXCLUDED.unit_price,
				currency_code = EXCLUDED.currency_code,
				period_start = EXCLUDED.period_start,
				period_end = EXCLUDED.period_end`,
			item.ID, o.ID, i, item.SubscriptionID, itemType, itemID,
			item.Title, item.Quantity, item.UnitPrice.Amount, item.UnitPrice.Currency,
			item.BillingPeriod.Start(), item.BillingPeriod.End(),
		)
		if err != nil {
			return fmt.Errorf("upsert item %s: %w", item.ID, err)
		}
		keep = append(keep, item.ID)
	}

	_, err := tx.Exec(ctx,
		`DELETE FROM recurring_order_items WHERE order_id = $1 AND NOT (id = ANY($2))`, o.ID, keep)
	if err != nil {
		return fmt.Errorf("delete stale items: %w", err)
	}
	return nil
}

func (r *OrderRepository) FindDraft(ctx context.Context, key domain.OrderKey, period domain.BillingPeriod) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM recurring_orders
		 WHERE state = 'draft'
		   AND store_id = $1 AND billing_schedule_id = $2 AND customer_id = $3
		   AND payment_method_id IS NOT DISTINCT FROM $4
		   AND currency_code = $5 AND period_start = $6`,
		key.StoreID, key.ScheduleID, key.CustomerID, keyPaymentMethod(key.PaymentMethodID), key.Currency, period.Start(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "order.find_draft", "failed to find draft order")
	}
	if err := loadItems(ctx, r.pool, o); err != nil {
		return nil, domain.Internal(err, "order.find_draft", "failed to load order items")
	}
	return o, nil
}

func (r *OrderRepository) ListDrafts(ctx context.Context) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM recurring_orders WHERE state = 'draft' ORDER BY period_start, created_at, id`)
	if err != nil {
		return nil, domain.Internal(err, "order.list_drafts", "failed to list draft orders")
	}
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, domain.Internal(err, "order.list_drafts", "failed to scan order")
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "order.list_drafts", "failed to list draft orders")
	}

	for _, o := range out {
		if err := loadItems(ctx, r.pool, o); err != nil {
			return nil, domain.Internal(err, "order.list_drafts", "failed to load order items")
		}
	}
	return out, nil
}
