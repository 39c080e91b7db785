package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"ordersync/internal/errs"
	"ordersync/internal/infrastructure/persistence/gormdb/model"
	"ordersync/internal/ports"
)

// DeadLetterRepository keeps undeliverable events in the dead_letters table.
type DeadLetterRepository struct {
	db *gorm.DB
}

var (
	_ ports.DeadLetterSink   = (*DeadLetterRepository)(nil)
	_ ports.DeadLetterReader = (*DeadLetterRepository)(nil)
)

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) Send(ctx context.Context, letter ports.DeadLetter) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(letter.ID) == "" {
		return errors.New("dead letter id is required")
	}

	row := model.DeadLetter{
		ID:         letter.ID,
		MessageKey: letter.Key,
		Payload:    letter.Payload,
		Reason:     letter.Reason,
		Field:      letter.Field,
		Detail:     letter.Detail,
		Source:     letter.Source,
		FailedAt:   letter.FailedAt.UTC(),
	}
	if row.Payload == nil {
		row.Payload = []byte{}
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert dead letter")
	}
	return nil
}

func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context, limit int) ([]ports.DeadLetter, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	query := r.db.WithContext(ctx).Model(&model.DeadLetter{}).Order("failed_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.DeadLetter
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query dead letters")
	}

	items := make([]ports.DeadLetter, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.DeadLetter{
			ID:       row.ID,
			Key:      row.MessageKey,
			Payload:  row.Payload,
			Reason:   row.Reason,
			Field:    row.Field,
			Detail:   row.Detail,
			Source:   row.Source,
			FailedAt: row.FailedAt,
		})
	}
	return items, nil
}
