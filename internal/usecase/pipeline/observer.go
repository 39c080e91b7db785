package pipeline

import (
	"time"

	"ordersync/internal/domain/order"
)

// Observer receives per-event pipeline signals, typically for metrics.
type Observer interface {
	Reconciled(outcome order.Outcome, elapsed time.Duration)
	Retried(reason string)
	DeadLettered(reason string)
}

type nopObserver struct{}

func (nopObserver) Reconciled(order.Outcome, time.Duration) {}
func (nopObserver) Retried(string)                          {}
func (nopObserver) DeadLettered(string)                     {}
