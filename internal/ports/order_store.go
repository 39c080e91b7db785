package ports

import (
	"context"
	"errors"

	"ordersync/internal/domain/order"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderReader is the read side of the store gateway.
type OrderReader interface {
	// FindByID returns ErrOrderNotFound when no row exists.
	FindByID(ctx context.Context, id int64) (order.Entity, error)
	ListByStatus(ctx context.Context, status order.Status, limit int) ([]order.Entity, error)
}

// OrderStore is the minimal gateway: separate lookup and writes. The engine
// serializes these per identifier when the store offers nothing stronger.
type OrderStore interface {
	OrderReader
	Insert(ctx context.Context, candidate order.Entity) error
	// Update replaces name, description, effective date and status keyed by id.
	Update(ctx context.Context, candidate order.Entity) error
}

// ConditionalUpserter is implemented by gateways that can insert-if-absent or
// update-if-different in one atomic statement.
type ConditionalUpserter interface {
	UpsertIfChanged(ctx context.Context, candidate order.Entity) (order.Outcome, error)
}
