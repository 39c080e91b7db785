package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

// maxLineBytes bounds a single JSON event in a batch file.
const maxLineBytes = 1 << 20

type LineFailure struct {
	Line   int
	Reason string
	Field  string
	Err    error
}

type BatchReport struct {
	Lines    int
	Outcomes map[order.Outcome]int
	Failures []LineFailure
}

// BatchApplier reconciles newline-delimited events outside the broker.
type BatchApplier struct {
	engine Reconciler
	uow    ports.UnitOfWork
}

func NewBatchApplier(engine Reconciler, uow ports.UnitOfWork) *BatchApplier {
	return &BatchApplier{engine: engine, uow: uow}
}

// Apply processes every non-blank line. Without atomic, failing lines are
// reported and skipped. With atomic, the first failure rolls the batch back.
func (a *BatchApplier) Apply(ctx context.Context, r io.Reader, atomic bool) (BatchReport, error) {
	if ctx == nil {
		return BatchReport{}, errors.New("context is required")
	}
	if a.engine == nil {
		return BatchReport{}, errors.New("reconcile engine is required")
	}
	if atomic && a.uow == nil {
		return BatchReport{}, errors.New("unit of work is required for atomic apply")
	}

	run := func(ctx context.Context) (BatchReport, error) {
		return a.apply(ctx, r, atomic)
	}
	if !atomic {
		return run(ctx)
	}

	var report BatchReport
	err := a.uow.WithTx(ctx, func(txCtx context.Context) error {
		var runErr error
		report, runErr = run(txCtx)
		return runErr
	})
	return report, err
}

func (a *BatchApplier) apply(ctx context.Context, r io.Reader, atomic bool) (BatchReport, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "pipeline.batch"))
	report := BatchReport{Outcomes: make(map[order.Outcome]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		report.Lines++

		outcome, err := a.applyLine(ctx, line)
		if err != nil {
			if errs.IsContextDone(err) && ctx.Err() != nil {
				return report, errs.Wrap(ctx.Err(), "apply batch")
			}
			failure := LineFailure{Line: lineNo, Reason: order.FailureReason(err), Field: order.FailureField(err), Err: err}
			if atomic {
				return report, fmt.Errorf("line %d: %w", lineNo, err)
			}
			report.Failures = append(report.Failures, failure)
			logging.Warn(logCtx, "batch line rejected",
				slog.Int("line", lineNo),
				slog.String("reason", failure.Reason),
				slog.Any("err", errs.Loggable(err)),
			)
			continue
		}
		report.Outcomes[outcome]++
	}
	if err := scanner.Err(); err != nil {
		return report, errs.Wrap(err, "read batch")
	}
	return report, nil
}

func (a *BatchApplier) applyLine(ctx context.Context, line []byte) (order.Outcome, error) {
	evt, err := order.Decode(line)
	if err != nil {
		return 0, err
	}
	return a.engine.Reconcile(ctx, order.ToEntity(evt))
}
