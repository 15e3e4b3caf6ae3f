package feed

import (
	"context"
	"errors"
	"fmt"

	"taskping/internal/alert"
	"taskping/internal/engine"
	logx "taskping/pkg/logx"
)

// Runner consumes batches from a Source, runs them through the engine,
// and reports per-record failures back so the source redelivers only
// what failed. When the source gives up on a record (retry cap), the
// runner raises an operator alert instead of losing it silently.
type Runner struct {
	source Source
	engine *engine.Engine
	alerts alert.Alerter
	log    logx.Logger
}

func NewRunner(src Source, eng *engine.Engine, alerts alert.Alerter, log logx.Logger) *Runner {
	if alerts == nil {
		alerts = alert.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{source: src, engine: eng, alerts: alerts, log: log}
}

// Run consumes until ctx is done or the source closes. Returns nil on
// clean shutdown.
func (r *Runner) Run(ctx context.Context) error {
	for {
		b, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("feed next: %w", err)
		}
		if b == nil || len(b.Records) == 0 {
			continue
		}
		r.handle(ctx, b)
	}
}

func (r *Runner) handle(ctx context.Context, b *Batch) {
	results := r.engine.HandleChangeBatch(ctx, b.Records)

	var failed []int
	for _, res := range results {
		if res.Err != nil {
			r.log.Warn("feed record failed",
				logx.String("batch", b.ID),
				logx.Int("attempt", b.Attempt),
				logx.Int("index", res.Index),
				logx.Err(res.Err))
			failed = append(failed, res.Index)
		}
	}

	err := r.source.Report(ctx, b, failed)
	if err == nil {
		r.log.Debug("feed batch done",
			logx.String("batch", b.ID),
			logx.Int("records", len(b.Records)),
			logx.Int("failed", len(failed)))
		return
	}
	if errors.Is(err, ErrRetriesExhausted) {
		msg := fmt.Sprintf("dropping %d change record(s) from batch %s after %d attempts", len(failed), b.ID, b.Attempt+1)
		r.log.Error("feed records dropped", logx.String("batch", b.ID), logx.Int("failed", len(failed)))
		r.alerts.Alert(ctx, msg)
		return
	}
	r.log.Warn("feed report failed", logx.String("batch", b.ID), logx.Err(err))
}
