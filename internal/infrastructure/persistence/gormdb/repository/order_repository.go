package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/infrastructure/persistence/gormdb/model"
	"ordersync/internal/ports"
)

// sqlite primary result code for every constraint failure (extended codes
// keep it in the low byte).
const sqliteConstraint = 19

type OrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ ports.OrderStore          = (*OrderRepository)(nil)
	_ ports.ConditionalUpserter = (*OrderRepository)(nil)
)

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *OrderRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id int64) (order.Entity, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return order.Entity{}, err
	}

	var row model.Order
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return order.Entity{}, ports.ErrOrderNotFound
		}
		return order.Entity{}, errs.Wrap(classify(err), "query order")
	}
	return mapOrder(row)
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status order.Status, limit int) ([]order.Entity, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %v", status)
	}
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Order{}).Where("status = ?", status.String()).Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(classify(err), "query orders by status")
	}

	items := make([]order.Entity, 0, len(rows))
	for _, row := range rows {
		item, err := mapOrder(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *OrderRepository) Insert(ctx context.Context, candidate order.Entity) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	row := toRow(candidate)
	row.Revision = 1
	row.CreatedDate = now
	row.UpdatedDate = now
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(classify(err), "insert order")
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, candidate order.Entity) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := toRow(candidate)
	result := db.Model(&model.Order{}).Where("id = ?", candidate.ID).Updates(map[string]any{
		"name":           row.Name,
		"description":    row.Description,
		"effective_date": row.EffectiveDate,
		"status":         row.Status,
		"revision":       gorm.Expr("revision + 1"),
		"updated_date":   r.now(),
	})
	if result.Error != nil {
		return errs.Wrap(classify(result.Error), "update order")
	}
	if result.RowsAffected == 0 {
		return ports.ErrOrderNotFound
	}
	return nil
}

type upsertReturn struct {
	Revision int64 `gorm:"column:revision"`
}

// UpsertIfChanged inserts the candidate, or overwrites the business fields of
// the existing row when at least one of them differs, in a single statement.
// The store-managed revision tells the outcome apart: a fresh row comes back
// with revision 1, an applied update with a higher one, and an equivalent row
// returns nothing because the conflict update's WHERE filtered it out.
func (r *OrderRepository) UpsertIfChanged(ctx context.Context, candidate order.Entity) (order.Outcome, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	row := toRow(candidate)

	var returned []upsertReturn
	if err := db.Raw(
		upsertStatement(db.Dialector.Name()),
		row.ID, row.Name, row.Description, row.EffectiveDate, row.Status, now, now,
	).Scan(&returned).Error; err != nil {
		return 0, errs.Wrap(classify(err), "upsert order")
	}

	switch {
	case len(returned) == 0:
		return order.OutcomeUnchanged, nil
	case returned[0].Revision <= 1:
		return order.OutcomeInserted, nil
	default:
		return order.OutcomeUpdated, nil
	}
}

func upsertStatement(dialect string) string {
	distinct := "IS NOT"
	if dialect == "postgres" {
		distinct = "IS DISTINCT FROM"
	}

	return fmt.Sprintf(`INSERT INTO orders (id, name, description, effective_date, status, revision, created_date, updated_date)
VALUES (?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	effective_date = excluded.effective_date,
	status = excluded.status,
	revision = orders.revision + 1,
	updated_date = excluded.updated_date
WHERE orders.name %[1]s excluded.name
	OR orders.description %[1]s excluded.description
	OR orders.effective_date %[1]s excluded.effective_date
	OR orders.status %[1]s excluded.status
RETURNING revision`, distinct)
}

// classify marks integrity failures with order.ErrConstraintViolation. Every
// other driver error is left as is and treated as the store being unavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %w", order.ErrConstraintViolation, errs.WithStack(err))
	}
	return errs.WithStack(err)
}

func isConstraintViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 23: integrity constraint violation.
		return strings.HasPrefix(pgErr.Code, "23")
	}

	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == sqliteConstraint {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}

func toRow(e order.Entity) model.Order {
	return model.Order{
		ID:            e.ID,
		Name:          e.Name,
		Description:   e.Description,
		EffectiveDate: model.NullDateFrom(e.EffectiveDate),
		Status:        e.Status.String(),
	}
}

func mapOrder(row model.Order) (order.Entity, error) {
	status, err := order.ParseStatus(row.Status)
	if err != nil {
		return order.Entity{}, errs.Wrapf(err, "order %d has corrupt status", row.ID)
	}
	return order.Entity{
		ID:            row.ID,
		Name:          row.Name,
		Description:   row.Description,
		EffectiveDate: row.EffectiveDate.Ptr(),
		Status:        status,
	}, nil
}
