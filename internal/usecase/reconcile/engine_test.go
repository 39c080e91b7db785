package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"ordersync/internal/domain/order"
	"ordersync/internal/infrastructure/persistence/gormdb/model"
	"ordersync/internal/infrastructure/persistence/gormdb/repository"
	"ordersync/internal/ports"
)

// memStore only offers the three physical operations. The yield between
// lookup and write widens race windows so missing locking shows up quickly.
type memStore struct {
	mu     sync.Mutex
	rows   map[int64]order.Entity
	writes atomic.Int64
	finds  atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]order.Entity)}
}

func (s *memStore) FindByID(_ context.Context, id int64) (order.Entity, error) {
	s.finds.Add(1)
	s.mu.Lock()
	row, ok := s.rows[id]
	s.mu.Unlock()
	runtime.Gosched()
	if !ok {
		return order.Entity{}, ports.ErrOrderNotFound
	}
	return row, nil
}

func (s *memStore) ListByStatus(context.Context, order.Status, int) ([]order.Entity, error) {
	return nil, nil
}

func (s *memStore) Insert(_ context.Context, e order.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[e.ID]; ok {
		return fmt.Errorf("%w: duplicate id %d", order.ErrConstraintViolation, e.ID)
	}
	s.writes.Add(1)
	s.rows[e.ID] = e
	return nil
}

func (s *memStore) Update(_ context.Context, e order.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[e.ID]; !ok {
		return ports.ErrOrderNotFound
	}
	// Field-by-field so an unsynchronised caller could produce a mix.
	row := s.rows[e.ID]
	row.Name = e.Name
	s.rows[e.ID] = row
	s.mu.Unlock()
	runtime.Gosched()
	s.mu.Lock()
	row = s.rows[e.ID]
	row.Description = e.Description
	row.EffectiveDate = e.EffectiveDate
	row.Status = e.Status
	s.rows[e.ID] = row
	s.writes.Add(1)
	return nil
}

func (s *memStore) get(id int64) (order.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	return row, ok
}

// atomicMemStore adds a conditional upsert performed under one lock.
type atomicMemStore struct {
	*memStore
	upserts atomic.Int64
}

func (s *atomicMemStore) UpsertIfChanged(_ context.Context, e order.Entity) (order.Outcome, error) {
	s.upserts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[e.ID]
	switch {
	case !ok:
		s.rows[e.ID] = e
		s.writes.Add(1)
		return order.OutcomeInserted, nil
	case existing.Equivalent(e):
		return order.OutcomeUnchanged, nil
	default:
		s.rows[e.ID] = e
		s.writes.Add(1)
		return order.OutcomeUpdated, nil
	}
}

type failingStore struct {
	*memStore
	err error
}

func (s *failingStore) FindByID(context.Context, int64) (order.Entity, error) {
	return order.Entity{}, s.err
}

func (s *failingStore) UpsertIfChanged(context.Context, order.Entity) (order.Outcome, error) {
	return 0, s.err
}

type blockingStore struct {
	*memStore
}

func (s *blockingStore) UpsertIfChanged(ctx context.Context, _ order.Entity) (order.Outcome, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func strPtr(s string) *string { return &s }

func candidate(id int64) order.Entity {
	d := civil.Date{Year: 2025, Month: time.July, Day: 25}
	return order.Entity{
		ID:            id,
		Name:          "Trimmed Order",
		Description:   strPtr("d"),
		EffectiveDate: &d,
		Status:        order.StatusApproved,
	}
}

func storeModes() map[string]func() (ports.OrderStore, *memStore) {
	return map[string]func() (ports.OrderStore, *memStore){
		"atomic": func() (ports.OrderStore, *memStore) {
			mem := newMemStore()
			return &atomicMemStore{memStore: mem}, mem
		},
		"locked": func() (ports.OrderStore, *memStore) {
			mem := newMemStore()
			return mem, mem
		},
	}
}

func TestNewEngineDetectsConditionalUpsert(t *testing.T) {
	if !NewEngine(&atomicMemStore{memStore: newMemStore()}).Atomic() {
		t.Fatalf("expected atomic engine for conditional store")
	}
	if NewEngine(newMemStore()).Atomic() {
		t.Fatalf("expected lock fallback for plain store")
	}
}

func TestReconcileRedeliveryIsIdempotent(t *testing.T) {
	for name, build := range storeModes() {
		t.Run(name, func(t *testing.T) {
			store, mem := build()
			engine := NewEngine(store)
			ctx := context.Background()

			want := []order.Outcome{order.OutcomeInserted, order.OutcomeUnchanged, order.OutcomeUnchanged}
			for i, w := range want {
				got, err := engine.Reconcile(ctx, candidate(1))
				if err != nil {
					t.Fatalf("delivery %d error = %v", i, err)
				}
				if got != w {
					t.Fatalf("delivery %d outcome = %v, want %v", i, got, w)
				}
			}
			if n := mem.writes.Load(); n != 1 {
				t.Fatalf("writes = %d, want 1", n)
			}
		})
	}
}

func TestReconcileSingleFieldChangeUpdates(t *testing.T) {
	mutations := map[string]func(*order.Entity){
		"name":        func(e *order.Entity) { e.Name = "other" },
		"description": func(e *order.Entity) { e.Description = nil },
		"date": func(e *order.Entity) {
			d := civil.Date{Year: 2025, Month: time.July, Day: 26}
			e.EffectiveDate = &d
		},
		"status": func(e *order.Entity) { e.Status = order.StatusDraft },
	}

	for mode, build := range storeModes() {
		for field, mutate := range mutations {
			t.Run(mode+"/"+field, func(t *testing.T) {
				store, mem := build()
				engine := NewEngine(store)
				ctx := context.Background()

				if _, err := engine.Reconcile(ctx, candidate(2)); err != nil {
					t.Fatalf("seed: %v", err)
				}
				next := candidate(2)
				mutate(&next)

				got, err := engine.Reconcile(ctx, next)
				if err != nil {
					t.Fatalf("Reconcile() error = %v", err)
				}
				if got != order.OutcomeUpdated {
					t.Fatalf("outcome = %v, want UPDATED", got)
				}
				stored, _ := mem.get(2)
				if !stored.Equivalent(next) {
					t.Fatalf("stored = %+v, want %+v", stored, next)
				}
				if n := mem.writes.Load(); n != 2 {
					t.Fatalf("writes = %d, want 2", n)
				}
			})
		}
	}
}

func TestReconcileEquivalentIssuesNoWrite(t *testing.T) {
	for name, build := range storeModes() {
		t.Run(name, func(t *testing.T) {
			store, mem := build()
			engine := NewEngine(store)
			ctx := context.Background()

			if _, err := engine.Reconcile(ctx, candidate(3)); err != nil {
				t.Fatalf("seed: %v", err)
			}
			before := mem.writes.Load()

			same := candidate(3)
			same.Name = "Trimmed Order"
			d := *same.EffectiveDate
			same.EffectiveDate = &d
			got, err := engine.Reconcile(ctx, same)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if got != order.OutcomeUnchanged {
				t.Fatalf("outcome = %v, want UNCHANGED", got)
			}
			if after := mem.writes.Load(); after != before {
				t.Fatalf("writes went from %d to %d", before, after)
			}
		})
	}
}

func TestReconcileConcurrentCandidatesNeverMix(t *testing.T) {
	a := candidate(9)
	b := order.Entity{ID: 9, Name: "B", Status: order.StatusCancelled}

	for name, build := range storeModes() {
		t.Run(name, func(t *testing.T) {
			store, mem := build()
			engine := NewEngine(store)
			ctx := context.Background()

			const callers = 200
			var (
				wg       sync.WaitGroup
				inserted atomic.Int64
				failures = make(chan error, callers)
			)
			for i := 0; i < callers; i++ {
				c := a
				if i%2 == 1 {
					c = b
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					got, err := engine.Reconcile(ctx, c)
					if err != nil {
						failures <- err
						return
					}
					if got == order.OutcomeInserted {
						inserted.Add(1)
					}
				}()
			}
			wg.Wait()
			close(failures)

			for err := range failures {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if n := inserted.Load(); n != 1 {
				t.Fatalf("inserted %d times, want 1", n)
			}
			stored, _ := mem.get(9)
			if !stored.Equivalent(a) && !stored.Equivalent(b) {
				t.Fatalf("stored row %+v mixes both candidates", stored)
			}
			if name == "locked" && engine.locks.size() != 0 {
				t.Fatalf("lock slots leaked: %d", engine.locks.size())
			}
		})
	}
}

func TestReconcileClassifiesStoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "connectivity", err: errors.New("dial tcp: connection refused"), want: order.ErrStoreUnavailable},
		{name: "constraint", err: fmt.Errorf("%w: check failed", order.ErrConstraintViolation), want: order.ErrConstraintViolation},
	}

	for _, tt := range tests {
		for _, atomicMode := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/atomic=%v", tt.name, atomicMode), func(t *testing.T) {
				fs := &failingStore{memStore: newMemStore(), err: tt.err}
				var store ports.OrderStore = fs
				if !atomicMode {
					store = struct{ ports.OrderStore }{fs}
				}

				_, err := NewEngine(store).Reconcile(context.Background(), candidate(5))
				if !errors.Is(err, tt.want) {
					t.Fatalf("Reconcile() error = %v, want %v", err, tt.want)
				}
				var re *order.ReconcileError
				if !errors.As(err, &re) || re.OrderID != 5 {
					t.Fatalf("expected ReconcileError for order 5, got %v", err)
				}
				if !errors.Is(err, tt.err) {
					t.Fatalf("cause lost: %v", err)
				}
			})
		}
	}
}

func TestReconcileTimeoutSurfacesStoreUnavailable(t *testing.T) {
	engine := NewEngine(&blockingStore{memStore: newMemStore()}, WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := engine.Reconcile(context.Background(), candidate(6))
	if !errors.Is(err, order.ErrStoreUnavailable) {
		t.Fatalf("Reconcile() error = %v, want ErrStoreUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Reconcile() error = %v, want deadline cause", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Reconcile() did not honour the store timeout")
	}
}

func TestReconcileLockWaitHonoursCancellation(t *testing.T) {
	engine := NewEngine(newMemStore())
	release, err := engine.locks.acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Reconcile(ctx, candidate(7))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, order.ErrStoreUnavailable) {
		t.Fatalf("Reconcile() error = %v", err)
	}
}

func TestReconcileRejectsInvalidCandidate(t *testing.T) {
	for _, id := range []int64{0, -4} {
		mem := newMemStore()
		_, err := NewEngine(mem).Reconcile(context.Background(), order.Entity{ID: id, Name: "x", Status: order.StatusDraft})
		if !errors.Is(err, order.ErrInvalidField) || order.FailureField(err) != "id" {
			t.Fatalf("Reconcile(id=%d) error = %v, want invalid field id", id, err)
		}
		if order.FailureReason(err) != "invalid_field" {
			t.Fatalf("FailureReason() = %q", order.FailureReason(err))
		}
		if mem.finds.Load() != 0 || mem.writes.Load() != 0 {
			t.Fatalf("store touched for an invalid candidate")
		}
	}
}

func decodeEntity(t *testing.T, raw string) order.Entity {
	t.Helper()
	evt, err := order.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", raw, err)
	}
	return order.ToEntity(evt)
}

const (
	newerEvent = `{"id":9,"version":2,"name":"second","status":"APPROVED","effectiveDate":"2025-08-01T09:00:00Z"}`
	olderEvent = `{"id":9,"version":1,"name":"first","status":"DRAFT","description":"stale"}`
)

// Versions are not compared: an older event redelivered after a newer one is
// applied like any other change.
func TestReconcileOlderVersionOverwritesNewer(t *testing.T) {
	for name, build := range storeModes() {
		t.Run(name, func(t *testing.T) {
			store, mem := build()
			engine := NewEngine(store)
			ctx := context.Background()

			if got, err := engine.Reconcile(ctx, decodeEntity(t, newerEvent)); err != nil || got != order.OutcomeInserted {
				t.Fatalf("version 2 = %v, %v", got, err)
			}
			older := decodeEntity(t, olderEvent)
			if got, err := engine.Reconcile(ctx, older); err != nil || got != order.OutcomeUpdated {
				t.Fatalf("version 1 after version 2 = %v, %v; want UPDATED", got, err)
			}
			stored, err := mem.FindByID(ctx, 9)
			if err != nil {
				t.Fatalf("FindByID() error = %v", err)
			}
			if !stored.Equivalent(older) {
				t.Fatalf("stored = %+v, want the version 1 fields", stored)
			}
		})
	}
}

func TestReconcileOlderVersionOverwritesNewerInRepository(t *testing.T) {
	for _, atomicMode := range []bool{true, false} {
		t.Run(fmt.Sprintf("atomic=%v", atomicMode), func(t *testing.T) {
			ctx := context.Background()
			repo := setupRepository(t)
			var store ports.OrderStore = repo
			if !atomicMode {
				store = struct{ ports.OrderStore }{repo}
			}
			engine := NewEngine(store)

			if got, err := engine.Reconcile(ctx, decodeEntity(t, newerEvent)); err != nil || got != order.OutcomeInserted {
				t.Fatalf("version 2 = %v, %v", got, err)
			}
			if got, err := engine.Reconcile(ctx, decodeEntity(t, olderEvent)); err != nil || got != order.OutcomeUpdated {
				t.Fatalf("version 1 after version 2 = %v, %v; want UPDATED", got, err)
			}
			stored, err := repo.FindByID(ctx, 9)
			if err != nil {
				t.Fatalf("FindByID() error = %v", err)
			}
			if stored.Name != "first" || stored.Status != order.StatusDraft || stored.EffectiveDate != nil ||
				stored.Description == nil || *stored.Description != "stale" {
				t.Fatalf("stored = %+v, want the version 1 fields", stored)
			}
		})
	}
}

func setupRepository(t *testing.T) *repository.OrderRepository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "engine.sqlite") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return repository.NewOrderRepository(db)
}

func TestReconcileTrimmedOrderAgainstRepository(t *testing.T) {
	raw := []byte(`{"id":123,"version":1,"name":"  Trimmed Order  ","status":"APPROVED","description":"d","effectiveDate":"2025-07-25T10:00:00+12:00"}`)
	evt, err := order.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	for _, atomicMode := range []bool{true, false} {
		t.Run(fmt.Sprintf("atomic=%v", atomicMode), func(t *testing.T) {
			ctx := context.Background()
			repo := setupRepository(t)
			var store ports.OrderStore = repo
			if !atomicMode {
				store = struct{ ports.OrderStore }{repo}
			}
			engine := NewEngine(store, WithStoreTimeout(5*time.Second))
			entity := order.ToEntity(evt)

			got, err := engine.Reconcile(ctx, entity)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if got != order.OutcomeInserted {
				t.Fatalf("outcome = %v, want INSERTED", got)
			}
			got, err = engine.Reconcile(ctx, entity)
			if err != nil || got != order.OutcomeUnchanged {
				t.Fatalf("redelivery = %v, %v", got, err)
			}

			stored, err := repo.FindByID(ctx, entity.ID)
			if err != nil {
				t.Fatalf("FindByID() error = %v", err)
			}
			if stored.Name != "Trimmed Order" || stored.Status != order.StatusApproved ||
				stored.Description == nil || *stored.Description != "d" ||
				stored.EffectiveDate == nil || stored.EffectiveDate.String() != "2025-07-25" {
				t.Fatalf("stored = %+v", stored)
			}
		})
	}
}
