package postgres

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/recurring/internal/domain"
)

// isDuplicateError checks for PostgreSQL unique-violation (23505).
func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// parseDecimal reads NUMERIC columns selected as text.
func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func refColumns(ref *domain.PurchasableRef) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	return &ref.Type, &ref.ID
}

func refFromColumns(typ, id *string) *domain.PurchasableRef {
	if typ == nil || id == nil {
		return nil
	}
	return &domain.PurchasableRef{Type: *typ, ID: *id}
}

// keyPaymentMethod maps the nil uuid of an order key back to NULL.
func keyPaymentMethod(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
