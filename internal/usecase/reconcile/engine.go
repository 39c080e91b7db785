package reconcile

import (
	"context"
	"errors"
	"time"

	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

// Engine decides and applies the minimal store mutation for a candidate
// entity. It never retries; callers own retry policy.
type Engine struct {
	store    ports.OrderStore
	upserter ports.ConditionalUpserter
	locks    *keyedLock
	timeout  time.Duration
}

type Option func(*Engine)

// WithStoreTimeout bounds every store call made for one reconciliation.
// Zero leaves the caller's deadline in charge.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine uses the store's atomic conditional upsert when it offers one and
// falls back to per-identifier locking around lookup and write otherwise.
func NewEngine(store ports.OrderStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		locks: newKeyedLock(),
	}
	if upserter, ok := store.(ports.ConditionalUpserter); ok {
		e.upserter = upserter
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Atomic reports whether reconciliations go through one conditional store call.
func (e *Engine) Atomic() bool {
	return e.upserter != nil
}

// Reconcile returns a *order.ReconcileError for store failures. A candidate
// with a non-positive id fails with order.ErrInvalidField on field "id"; a nil
// context or a missing store are wiring mistakes and fail with plain errors.
func (e *Engine) Reconcile(ctx context.Context, candidate order.Entity) (order.Outcome, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if e.store == nil {
		return 0, errors.New("order store is required")
	}
	if candidate.ID <= 0 {
		return 0, &order.DecodeError{Kind: order.ErrInvalidField, Field: "id", Err: errors.New("must be positive")}
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	var (
		outcome order.Outcome
		err     error
	)
	if e.upserter != nil {
		outcome, err = e.upserter.UpsertIfChanged(storeCtx, candidate)
	} else {
		outcome, err = e.reconcileLocked(storeCtx, candidate)
	}
	if err != nil {
		return 0, classify(candidate.ID, err)
	}
	return outcome, nil
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) reconcileLocked(ctx context.Context, candidate order.Entity) (order.Outcome, error) {
	unlock, err := e.locks.acquire(ctx, candidate.ID)
	if err != nil {
		return 0, errs.Wrap(err, "wait for order lock")
	}
	defer unlock()

	existing, err := e.store.FindByID(ctx, candidate.ID)
	switch {
	case errors.Is(err, ports.ErrOrderNotFound):
		insertErr := e.store.Insert(ctx, candidate)
		if insertErr == nil {
			return order.OutcomeInserted, nil
		}
		if !errors.Is(insertErr, order.ErrConstraintViolation) {
			return 0, insertErr
		}
		// Another writer outside this process may have created the row
		// between lookup and insert.
		existing, err = e.store.FindByID(ctx, candidate.ID)
		if errors.Is(err, ports.ErrOrderNotFound) {
			return 0, insertErr
		}
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	}

	if existing.Equivalent(candidate) {
		return order.OutcomeUnchanged, nil
	}
	if err := e.store.Update(ctx, candidate); err != nil {
		return 0, err
	}
	return order.OutcomeUpdated, nil
}

func classify(id int64, err error) error {
	var re *order.ReconcileError
	if errors.As(err, &re) {
		return err
	}
	kind := order.ErrStoreUnavailable
	if errors.Is(err, order.ErrConstraintViolation) {
		kind = order.ErrConstraintViolation
	}
	return &order.ReconcileError{Kind: kind, OrderID: id, Err: err}
}
