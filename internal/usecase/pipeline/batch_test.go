package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"ordersync/internal/domain/order"
	"ordersync/internal/infrastructure/persistence/gormdb/model"
	"ordersync/internal/infrastructure/persistence/gormdb/repository"
	"ordersync/internal/infrastructure/persistence/gormdb/uow"
	"ordersync/internal/ports"
	"ordersync/internal/usecase/reconcile"
)

func setupBatch(t *testing.T) (*BatchApplier, *repository.OrderRepository) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "batch.sqlite") + "?_pragma=busy_timeout(5000)"
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

	repo := repository.NewOrderRepository(db)
	return NewBatchApplier(reconcile.NewEngine(repo), uow.NewUnitOfWork(db)), repo
}

const batchInput = `{"id":1,"version":1,"name":"first","status":"DRAFT"}
{"id":2,"version":1,"name":"second","status":"APPROVED","effectiveDate":"2025-01-31T23:30:00-05:00"}

{"id":1,"version":1,"name":"first","status":"DRAFT"}
{"id":1,"version":2,"name":"first","status":"DONE"}
{"id":3,"version":1,"name":"bad","status":"UNKNOWN"}
`

func TestBatchApplyReportsAndSkipsBadLines(t *testing.T) {
	applier, repo := setupBatch(t)
	ctx := context.Background()

	report, err := applier.Apply(ctx, strings.NewReader(batchInput), false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Lines != 5 {
		t.Fatalf("lines = %d, want 5", report.Lines)
	}
	if report.Outcomes[order.OutcomeInserted] != 2 || report.Outcomes[order.OutcomeUnchanged] != 1 || report.Outcomes[order.OutcomeUpdated] != 1 {
		t.Fatalf("outcomes = %v", report.Outcomes)
	}
	if len(report.Failures) != 1 || report.Failures[0].Line != 6 || report.Failures[0].Field != "status" {
		t.Fatalf("failures = %+v", report.Failures)
	}

	stored, err := repo.FindByID(ctx, 1)
	if err != nil || stored.Status != order.StatusDone {
		t.Fatalf("order 1 = %+v, %v", stored, err)
	}
	second, err := repo.FindByID(ctx, 2)
	if err != nil || second.EffectiveDate == nil || second.EffectiveDate.String() != "2025-01-31" {
		t.Fatalf("order 2 = %+v, %v", second, err)
	}
}

func TestBatchApplyAtomicRollsBackOnFailure(t *testing.T) {
	applier, repo := setupBatch(t)
	ctx := context.Background()

	_, err := applier.Apply(ctx, strings.NewReader(batchInput), true)
	if !errors.Is(err, order.ErrInvalidField) {
		t.Fatalf("Apply() error = %v, want ErrInvalidField", err)
	}
	for _, id := range []int64{1, 2} {
		if _, err := repo.FindByID(ctx, id); !errors.Is(err, ports.ErrOrderNotFound) {
			t.Fatalf("order %d survived rollback: %v", id, err)
		}
	}
}

func TestBatchApplyAtomicCommitsCleanBatch(t *testing.T) {
	applier, repo := setupBatch(t)
	ctx := context.Background()

	clean := strings.Join(strings.Split(batchInput, "\n")[:5], "\n")
	report, err := applier.Apply(ctx, strings.NewReader(clean), true)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if report.Outcomes[order.OutcomeInserted] != 2 {
		t.Fatalf("outcomes = %v", report.Outcomes)
	}
	if _, err := repo.FindByID(ctx, 2); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
}
