package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"ordersync/internal/domain/order"
	"ordersync/internal/ports"
)

type stubReader struct {
	rows       map[int64]order.Entity
	lastStatus order.Status
	lastLimit  int
}

func (s *stubReader) FindByID(_ context.Context, id int64) (order.Entity, error) {
	row, ok := s.rows[id]
	if !ok {
		return order.Entity{}, ports.ErrOrderNotFound
	}
	return row, nil
}

func (s *stubReader) ListByStatus(_ context.Context, status order.Status, limit int) ([]order.Entity, error) {
	s.lastStatus, s.lastLimit = status, limit
	var out []order.Entity
	for _, row := range s.rows {
		if row.Status == status {
			out = append(out, row)
		}
	}
	return out, nil
}

func newStubReader() *stubReader {
	d := civil.Date{Year: 2025, Month: time.July, Day: 25}
	desc := "d"
	return &stubReader{rows: map[int64]order.Entity{
		123: {ID: 123, Name: "Trimmed Order", Description: &desc, EffectiveDate: &d, Status: order.StatusApproved},
	}}
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestAdminGetOrder(t *testing.T) {
	h := newAdminRouter(adminDeps{orders: newStubReader()})

	rec := serve(t, h, "/orders/123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var got orderView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != 123 || got.Status != "APPROVED" || got.EffectiveDate == nil || *got.EffectiveDate != "2025-07-25" {
		t.Fatalf("body = %+v", got)
	}

	if rec := serve(t, h, "/orders/999"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing order status = %d", rec.Code)
	}
	if rec := serve(t, h, "/orders/abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestAdminListOrders(t *testing.T) {
	reader := newStubReader()
	h := newAdminRouter(adminDeps{orders: reader})

	rec := serve(t, h, "/orders?status=APPROVED&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var got []orderView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 1 || reader.lastStatus != order.StatusApproved || reader.lastLimit != 5 {
		t.Fatalf("got = %+v status = %v limit = %d", got, reader.lastStatus, reader.lastLimit)
	}

	if rec := serve(t, h, "/orders?status=approved"); rec.Code != http.StatusBadRequest {
		t.Fatalf("lower-case status = %d, want 400", rec.Code)
	}
	if rec := serve(t, h, "/orders?status=DONE&limit=-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit = %d, want 400", rec.Code)
	}
}

func TestAdminHealthz(t *testing.T) {
	healthy := newAdminRouter(adminDeps{orders: newStubReader(), ping: func(context.Context) error { return nil }})
	if rec := serve(t, healthy, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	down := newAdminRouter(adminDeps{orders: newStubReader(), ping: func(context.Context) error { return errors.New("db gone") }})
	if rec := serve(t, down, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", rec.Code)
	}
}

func TestAdminMetricsMount(t *testing.T) {
	called := false
	h := newAdminRouter(adminDeps{
		orders: newStubReader(),
		metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}),
	})
	if rec := serve(t, h, "/metrics"); rec.Code != http.StatusOK || !called {
		t.Fatalf("metrics status = %d called = %v", rec.Code, called)
	}
}
