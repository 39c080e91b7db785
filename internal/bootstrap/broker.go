package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/fx"

	"ordersync/internal/bootstrap/config"
	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/errs"
	"ordersync/internal/infrastructure/broker/kafka"
	"ordersync/internal/infrastructure/broker/natsjs"
	"ordersync/internal/infrastructure/persistence/gormdb/repository"
	"ordersync/internal/ports"
)

// Brokers hands out transport adapters for the configured driver. The NATS
// connection is dialled on first use and shared.
type Brokers struct {
	cfg   config.BrokerConfig
	kafka *kafka.Client

	mu   sync.Mutex
	nats *natsjs.Client
}

func newBrokers(lc fx.Lifecycle, cfg config.Config) *Brokers {
	b := &Brokers{
		cfg: cfg.Broker,
		kafka: kafka.NewClient(kafka.Config{
			Brokers:         kafka.ParseBrokers(cfg.Broker.Kafka.Brokers),
			Topic:           cfg.Broker.Kafka.Topic,
			GroupID:         cfg.Broker.Kafka.GroupID,
			DeadLetterTopic: cfg.Broker.Kafka.DeadLetterTopic,
		}),
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			return b.nats.Close()
		},
	})
	return b
}

func (b *Brokers) natsClient(ctx context.Context) (*natsjs.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nats != nil {
		return b.nats, nil
	}
	client, err := natsjs.Dial(ctx, natsjs.Config{
		URL:               b.cfg.NATS.URL,
		Stream:            b.cfg.NATS.Stream,
		Subject:           b.cfg.NATS.Subject,
		Durable:           b.cfg.NATS.Durable,
		DeadLetterSubject: b.cfg.NATS.DeadLetterSubject,
		FetchWait:         b.cfg.NATS.FetchWait,
	})
	if err != nil {
		return nil, err
	}
	b.nats = client
	return client, nil
}

func (b *Brokers) Source(ctx context.Context) (ports.EventSource, error) {
	switch b.cfg.Driver {
	case config.BrokerKafka:
		return b.kafka.NewSource()
	case config.BrokerNATS:
		client, err := b.natsClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.NewSource(ctx)
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", b.cfg.Driver)
	}
}

func (b *Brokers) Publisher(ctx context.Context) (ports.EventPublisher, error) {
	switch b.cfg.Driver {
	case config.BrokerKafka:
		return b.kafka.NewPublisher()
	case config.BrokerNATS:
		client, err := b.natsClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", b.cfg.Driver)
	}
}

func (b *Brokers) DeadLetterPublisher(ctx context.Context) (ports.DeadLetterSink, func() error, error) {
	switch b.cfg.Driver {
	case config.BrokerKafka:
		pub, err := b.kafka.NewDeadLetterPublisher()
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	case config.BrokerNATS:
		client, err := b.natsClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		pub, err := client.NewDeadLetterPublisher()
		if err != nil {
			return nil, nil, err
		}
		return pub, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported broker driver %q", b.cfg.Driver)
	}
}

func provideEventSource(lc fx.Lifecycle, ctx context.Context, b *Brokers) (ports.EventSource, error) {
	source, err := b.Source(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "open event source")
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return source.Close() }})
	return source, nil
}

func provideEventPublisher(lc fx.Lifecycle, ctx context.Context, b *Brokers) (ports.EventPublisher, error) {
	publisher, err := b.Publisher(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "open event publisher")
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return publisher.Close() }})
	return publisher, nil
}

func provideDeadLetterSink(lc fx.Lifecycle, ctx context.Context, cfg config.Config, b *Brokers, store *repository.DeadLetterRepository) (ports.DeadLetterSink, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))
	if cfg.DeadLetter.Sink == config.SinkStore {
		logging.Info(logCtx, "dead letters go to the store")
		return store, nil
	}

	sink, closeFn, err := b.DeadLetterPublisher(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "open dead letter publisher")
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return closeFn() }})
	logging.Info(logCtx, "dead letters go to the broker", slog.String("driver", cfg.Broker.Driver))
	return sink, nil
}
