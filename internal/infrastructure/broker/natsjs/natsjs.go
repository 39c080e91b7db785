package natsjs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

const (
	headerDeadLetterID = "Dead-Letter-Id"
	headerReason       = "Failure-Reason"
	headerField        = "Failure-Field"
	headerDetail       = "Failure-Detail"
	headerSource       = "Failure-Source"
	headerFailedAt     = "Failed-At"
)

type Config struct {
	URL               string
	Stream            string
	Subject           string
	Durable           string
	DeadLetterSubject string
	FetchWait         time.Duration
}

// Client owns one connection shared by every adapter it hands out.
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  jetstream.JetStream
}

// Dial connects and makes sure the stream covers the order and dead-letter
// subjects.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, errors.New("nats stream and subject are required")
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("ordersync"))
	if err != nil {
		return nil, errs.Wrap(err, "connect nats")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errs.Wrap(err, "open jetstream")
	}
	if _, err := js.CreateOrUpdateStream(ctx, streamConfig(cfg)); err != nil {
		nc.Close()
		return nil, errs.Wrapf(err, "ensure stream %s", cfg.Stream)
	}
	return &Client{cfg: cfg, nc: nc, js: js}, nil
}

func streamConfig(cfg Config) jetstream.StreamConfig {
	subjects := []string{wildcard(cfg.Subject)}
	if cfg.DeadLetterSubject != "" {
		subjects = append(subjects, wildcard(cfg.DeadLetterSubject))
	}
	return jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
}

func wildcard(subject string) string {
	return subject + ".>"
}

func (c *Client) Close() error {
	if c == nil || c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

// Source pulls from a durable consumer with explicit acks. The order id is the
// last subject token.
type Source struct {
	consumer jetstream.Consumer
	prefix   string
	wait     time.Duration
}

var _ ports.EventSource = (*Source)(nil)

func (c *Client) NewSource(ctx context.Context) (*Source, error) {
	if c.cfg.Durable == "" {
		return nil, errors.New("nats durable consumer name is required")
	}
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: wildcard(c.cfg.Subject),
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return nil, errs.Wrapf(err, "ensure consumer %s", c.cfg.Durable)
	}
	return &Source{consumer: consumer, prefix: c.cfg.Subject + ".", wait: c.cfg.FetchWait}, nil
}

// Fetch polls in FetchWait slices so cancellation is noticed between pulls.
func (s *Source) Fetch(ctx context.Context) (ports.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.consumer.Next(jetstream.FetchMaxWait(s.wait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) {
				continue
			}
			return nil, errs.Wrap(err, "pull message")
		}
		return &delivery{msg: msg, key: keyFromSubject(msg.Subject(), s.prefix)}, nil
	}
}

// Close is a no-op; the Client owns the connection.
func (s *Source) Close() error { return nil }

func keyFromSubject(subject, prefix string) string {
	return strings.TrimPrefix(subject, prefix)
}

type delivery struct {
	msg jetstream.Msg
	key string
}

func (d *delivery) Key() string     { return d.key }
func (d *delivery) Payload() []byte { return d.msg.Data() }

// Lane is the key; JetStream acks each message on its own.
func (d *delivery) Lane() string { return d.key }

func (d *delivery) Source() string {
	meta, err := d.msg.Metadata()
	if err != nil {
		return d.msg.Subject()
	}
	return fmt.Sprintf("%s@%d", meta.Stream, meta.Sequence.Stream)
}

// Ack waits for the server to confirm so a lost ack surfaces as an error.
func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

type Publisher struct {
	js      jetstream.JetStream
	subject string
}

var _ ports.EventPublisher = (*Publisher)(nil)

func (c *Client) NewPublisher() *Publisher {
	return &Publisher{js: c.js, subject: c.cfg.Subject}
}

func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	if _, err := p.js.Publish(ctx, p.subject+"."+key, payload); err != nil {
		return errs.Wrap(err, "publish event")
	}
	return nil
}

func (p *Publisher) Close() error { return nil }

type DeadLetterPublisher struct {
	js      jetstream.JetStream
	subject string
}

var _ ports.DeadLetterSink = (*DeadLetterPublisher)(nil)

func (c *Client) NewDeadLetterPublisher() (*DeadLetterPublisher, error) {
	if c.cfg.DeadLetterSubject == "" {
		return nil, errors.New("nats dead letter subject is required")
	}
	return &DeadLetterPublisher{js: c.js, subject: c.cfg.DeadLetterSubject}, nil
}

// Send deduplicates on the dead-letter id so a retried send is stored once.
func (p *DeadLetterPublisher) Send(ctx context.Context, letter ports.DeadLetter) error {
	if _, err := p.js.PublishMsg(ctx, deadLetterMsg(p.subject, letter), jetstream.WithMsgID(letter.ID)); err != nil {
		return errs.Wrap(err, "publish dead letter")
	}
	return nil
}

func deadLetterMsg(subject string, letter ports.DeadLetter) *nats.Msg {
	key := letter.Key
	if key == "" {
		key = "unkeyed"
	}
	msg := nats.NewMsg(subject + "." + key)
	msg.Data = letter.Payload
	msg.Header.Set(headerDeadLetterID, letter.ID)
	msg.Header.Set(headerReason, letter.Reason)
	msg.Header.Set(headerDetail, letter.Detail)
	msg.Header.Set(headerSource, letter.Source)
	msg.Header.Set(headerFailedAt, letter.FailedAt.UTC().Format(time.RFC3339Nano))
	if letter.Field != "" {
		msg.Header.Set(headerField, letter.Field)
	}
	return msg
}
