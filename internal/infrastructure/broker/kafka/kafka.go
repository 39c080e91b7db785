package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

var ErrDisabled = errors.New("kafka disabled")

const (
	headerDeadLetterID = "x-dead-letter-id"
	headerReason       = "x-failure-reason"
	headerField        = "x-failure-field"
	headerDetail       = "x-failure-detail"
	headerSource       = "x-failure-source"
	headerFailedAt     = "x-failed-at"
)

type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	DeadLetterTopic string
}

type Client struct {
	cfg Config
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) Enabled() bool {
	return len(c.cfg.Brokers) > 0
}

func (c *Client) newWriter(topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// Source reads the order topic as part of a consumer group. Offsets are
// committed only through Delivery.Ack.
type Source struct {
	reader *kafkago.Reader
}

var _ ports.EventSource = (*Source)(nil)

func (c *Client) NewSource() (*Source, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if c.cfg.Topic == "" || c.cfg.GroupID == "" {
		return nil, errors.New("kafka topic and group id are required")
	}
	return &Source{reader: kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})}, nil
}

func (s *Source) Fetch(ctx context.Context) (ports.Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &delivery{reader: s.reader, msg: msg}, nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}

type delivery struct {
	reader *kafkago.Reader
	msg    kafkago.Message
}

func (d *delivery) Key() string     { return string(d.msg.Key) }
func (d *delivery) Payload() []byte { return d.msg.Value }
func (d *delivery) Source() string  { return sourceOf(d.msg) }
func (d *delivery) Lane() string    { return laneOf(d.msg) }

func (d *delivery) Ack(ctx context.Context) error {
	return d.reader.CommitMessages(ctx, d.msg)
}

// laneOf is the partition: committing an offset also commits every earlier
// offset of that partition.
func laneOf(msg kafkago.Message) string {
	return fmt.Sprintf("%s/%d", msg.Topic, msg.Partition)
}

func sourceOf(msg kafkago.Message) string {
	return fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
}

// Publisher writes raw events; the hash balancer keeps one key on one partition.
type Publisher struct {
	writer *kafkago.Writer
}

var _ ports.EventPublisher = (*Publisher)(nil)

func (c *Client) NewPublisher() (*Publisher, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if c.cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &Publisher{writer: c.newWriter(c.cfg.Topic)}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// DeadLetterPublisher forwards failed events unchanged to the dead-letter
// topic with the failure attached as headers.
type DeadLetterPublisher struct {
	writer *kafkago.Writer
}

var _ ports.DeadLetterSink = (*DeadLetterPublisher)(nil)

func (c *Client) NewDeadLetterPublisher() (*DeadLetterPublisher, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if c.cfg.DeadLetterTopic == "" {
		return nil, errors.New("kafka dead letter topic is required")
	}
	return &DeadLetterPublisher{writer: c.newWriter(c.cfg.DeadLetterTopic)}, nil
}

func (p *DeadLetterPublisher) Send(ctx context.Context, letter ports.DeadLetter) error {
	if err := p.writer.WriteMessages(ctx, deadLetterMessage(letter)); err != nil {
		return errs.Wrap(err, "write dead letter")
	}
	return nil
}

func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}

func deadLetterMessage(letter ports.DeadLetter) kafkago.Message {
	headers := []kafkago.Header{
		{Key: headerDeadLetterID, Value: []byte(letter.ID)},
		{Key: headerReason, Value: []byte(letter.Reason)},
		{Key: headerDetail, Value: []byte(letter.Detail)},
		{Key: headerSource, Value: []byte(letter.Source)},
		{Key: headerFailedAt, Value: []byte(letter.FailedAt.UTC().Format(time.RFC3339Nano))},
	}
	if letter.Field != "" {
		headers = append(headers, kafkago.Header{Key: headerField, Value: []byte(letter.Field)})
	}
	return kafkago.Message{
		Key:     []byte(letter.Key),
		Value:   letter.Payload,
		Headers: headers,
		Time:    letter.FailedAt,
	}
}
