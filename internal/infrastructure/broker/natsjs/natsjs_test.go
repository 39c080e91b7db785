package natsjs

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"ordersync/internal/ports"
)

func TestStreamConfigCoversOrderAndDeadLetterSubjects(t *testing.T) {
	cfg := streamConfig(Config{Stream: "ORDERS", Subject: "orders", DeadLetterSubject: "orders-dlq"})
	if cfg.Name != "ORDERS" {
		t.Fatalf("name = %q", cfg.Name)
	}
	if len(cfg.Subjects) != 2 || cfg.Subjects[0] != "orders.>" || cfg.Subjects[1] != "orders-dlq.>" {
		t.Fatalf("subjects = %#v", cfg.Subjects)
	}
	if cfg.Storage != jetstream.FileStorage {
		t.Fatalf("storage = %v", cfg.Storage)
	}
}

func TestKeyFromSubject(t *testing.T) {
	if got := keyFromSubject("orders.123", "orders."); got != "123" {
		t.Fatalf("keyFromSubject() = %q", got)
	}
}

func TestDeadLetterMsgCarriesFailure(t *testing.T) {
	msg := deadLetterMsg("orders-dlq", ports.DeadLetter{
		ID:       "dl-1",
		Key:      "42",
		Payload:  []byte("{"),
		Reason:   "malformed_payload",
		Detail:   "unexpected end of JSON input",
		Source:   "ORDERS@7",
		FailedAt: time.Date(2025, 7, 25, 10, 0, 0, 0, time.UTC),
	})

	if msg.Subject != "orders-dlq.42" || string(msg.Data) != "{" {
		t.Fatalf("msg = %s %q", msg.Subject, msg.Data)
	}
	if msg.Header.Get(headerReason) != "malformed_payload" || msg.Header.Get(headerDeadLetterID) != "dl-1" {
		t.Fatalf("headers = %v", msg.Header)
	}
	if msg.Header.Get(headerField) != "" {
		t.Fatalf("field header must be absent for payload failures")
	}

	unkeyed := deadLetterMsg("orders-dlq", ports.DeadLetter{ID: "x"})
	if unkeyed.Subject != "orders-dlq.unkeyed" {
		t.Fatalf("unkeyed subject = %s", unkeyed.Subject)
	}
}

func TestDialValidatesConfig(t *testing.T) {
	if _, err := Dial(context.Background(), Config{Stream: "S", Subject: "s"}); err == nil {
		t.Fatalf("Dial() expected error without url")
	}
	if _, err := Dial(context.Background(), Config{URL: "nats://127.0.0.1:4222"}); err == nil {
		t.Fatalf("Dial() expected error without stream")
	}
}
