package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

// Reconciler is the engine contract the coordinator drives.
type Reconciler interface {
	Reconcile(ctx context.Context, candidate order.Entity) (order.Outcome, error)
}

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Config struct {
	Workers int
	Retry   RetryPolicy
	// StoreTimeout bounds each dead-letter write. Zero leaves it unbounded.
	StoreTimeout time.Duration
	// AckTimeout bounds each ack. Acks outlive cancellation of the delivery
	// context so a finished outcome is still committed during shutdown.
	AckTimeout time.Duration
}

const defaultAckTimeout = 5 * time.Second

// Coordinator runs decode, map and reconcile for every delivery and acks only
// once a definite outcome is known or the event has been dead-lettered.
type Coordinator struct {
	source      ports.EventSource
	engine      Reconciler
	deadLetters ports.DeadLetterSink
	observer    Observer
	cfg         Config
	now         func() time.Time
	newID       func() string
}

type Option func(*Coordinator)

func WithObserver(observer Observer) Option {
	return func(c *Coordinator) {
		if observer != nil {
			c.observer = observer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCoordinator(source ports.EventSource, engine Reconciler, deadLetters ports.DeadLetterSink, cfg Config, opts ...Option) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 100 * time.Millisecond
	}
	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		cfg.Retry.MaxInterval = cfg.Retry.InitialInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}

	c := &Coordinator{
		source:      source,
		engine:      engine,
		deadLetters: deadLetters,
		observer:    nopObserver{},
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run fetches until ctx is done or the source fails. Deliveries are sharded by
// lane so one lane is always processed by the same worker, in fetch order, and
// its acks never overtake an earlier delivery still in flight.
//
// A delivery that ends neither reconciled nor dead-lettered stops the run:
// acking anything after it on the same lane would commit past it.
func (c *Coordinator) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if c.source == nil || c.engine == nil || c.deadLetters == nil {
		return errors.New("pipeline source, engine and dead-letter sink are required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "pipeline"))
	runCtx, halt := context.WithCancelCause(ctx)
	defer halt(nil)

	queues := make([]chan ports.Delivery, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan ports.Delivery)
		wg.Add(1)
		go func(queue <-chan ports.Delivery) {
			defer wg.Done()
			for delivery := range queue {
				err := c.Process(runCtx, delivery)
				if err == nil || runCtx.Err() != nil {
					continue
				}
				logging.Error(logCtx, "delivery left unacknowledged, stopping pipeline",
					slog.Any("err", errs.Loggable(err)),
					slog.String("source", delivery.Source()),
					slog.String("message_key", delivery.Key()),
				)
				halt(&haltError{source: delivery.Source(), err: err})
			}
		}(queues[i])
	}

	logging.Info(logCtx, "pipeline started", slog.Int("workers", c.cfg.Workers))
	fetchErr := c.dispatch(runCtx, queues)
	for _, queue := range queues {
		close(queue)
	}
	wg.Wait()

	var stopped *haltError
	if errors.As(context.Cause(runCtx), &stopped) {
		return stopped
	}
	if fetchErr != nil && ctx.Err() == nil {
		return errs.Wrap(fetchErr, "fetch event")
	}
	logging.Info(logCtx, "pipeline stopped")
	return nil
}

type haltError struct {
	source string
	err    error
}

func (e *haltError) Error() string {
	return "delivery " + e.source + " left unacknowledged: " + e.err.Error()
}

func (e *haltError) Unwrap() error { return e.err }

func (c *Coordinator) dispatch(ctx context.Context, queues []chan ports.Delivery) error {
	for {
		delivery, err := c.source.Fetch(ctx)
		if err != nil {
			return err
		}
		select {
		case queues[shard(delivery.Lane(), len(queues))] <- delivery:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func shard(lane string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(lane))
	return int(h.Sum32() % uint32(n))
}

// Process handles one delivery end to end. A nil return means the delivery was
// acknowledged. Cancellation before an outcome is known leaves the delivery
// unacknowledged for redelivery.
func (c *Coordinator) Process(ctx context.Context, delivery ports.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logCtx := logging.WithDelivery(logging.WithAttrs(ctx, slog.String("component", "pipeline")), delivery.Source(), delivery.Key())
	start := c.now()

	evt, err := order.Decode(delivery.Payload())
	if err != nil {
		return c.deadLetter(logCtx, delivery, err)
	}

	outcome, err := c.reconcileWithRetry(logCtx, order.ToEntity(evt))
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(ctx.Err(), "reconcile interrupted")
		}
		return c.deadLetter(logCtx, delivery, err)
	}

	elapsed := c.now().Sub(start)
	c.observer.Reconciled(outcome, elapsed)
	logging.Info(logCtx, "order reconciled",
		slog.Int64("order_id", evt.ID),
		slog.Int64("version", evt.Version),
		slog.String("outcome", outcome.String()),
		slog.Duration("elapsed", elapsed),
	)
	return c.ack(logCtx, delivery)
}

// reconcileWithRetry retries only store unavailability. Constraint violations
// are permanent for the event.
func (c *Coordinator) reconcileWithRetry(ctx context.Context, candidate order.Entity) (order.Outcome, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.Retry.InitialInterval
	policy.MaxInterval = c.cfg.Retry.MaxInterval

	return backoff.Retry(ctx, func() (order.Outcome, error) {
		outcome, err := c.engine.Reconcile(ctx, candidate)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, order.ErrStoreUnavailable) || ctx.Err() != nil {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.observer.Retried(order.FailureReason(err))
			logging.Warn(ctx, "reconcile failed, retrying",
				slog.Int64("order_id", candidate.ID),
				slog.Duration("wait", wait),
				slog.Any("err", errs.Loggable(err)),
			)
		}),
	)
}

func (c *Coordinator) deadLetter(ctx context.Context, delivery ports.Delivery, cause error) error {
	reason := order.FailureReason(cause)
	letter := ports.DeadLetter{
		ID:       c.newID(),
		Key:      delivery.Key(),
		Payload:  delivery.Payload(),
		Reason:   reason,
		Field:    order.FailureField(cause),
		Detail:   cause.Error(),
		Source:   delivery.Source(),
		FailedAt: c.now(),
	}
	sendCtx, cancel := c.storeContext(ctx)
	err := c.deadLetters.Send(sendCtx, letter)
	cancel()
	if err != nil {
		return errs.Wrap(err, "send dead letter")
	}

	c.observer.DeadLettered(reason)
	attrs := []slog.Attr{
		slog.String("reason", reason),
		slog.String("dead_letter_id", letter.ID),
		slog.Any("err", errs.Loggable(cause)),
	}
	if letter.Field != "" {
		attrs = append(attrs, slog.String("field", letter.Field))
	}
	logging.Warn(ctx, "event dead-lettered", attrs...)
	return c.ack(ctx, delivery)
}

func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.StoreTimeout)
}

func (c *Coordinator) ack(ctx context.Context, delivery ports.Delivery) error {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AckTimeout)
	defer cancel()
	if err := delivery.Ack(ackCtx); err != nil {
		return errs.Wrap(err, "ack delivery")
	}
	return nil
}
