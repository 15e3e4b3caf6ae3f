// Package feed is the change-feed boundary: ordered batches of
// transaction change events in, per-record failure reports back out.
//
// The feed owns redelivery. A report naming failed record indexes causes
// the source to re-present exactly those records (bounded by a retry
// cap); everything else is acknowledged by omission. The engine's
// idempotent persistence is what makes redelivery safe.
package feed

import (
	"context"
	"errors"

	"taskping/internal/entity"
)

var (
	// ErrClosed is returned by Next once the source has shut down.
	ErrClosed = errors.New("feed source closed")
	// ErrRetriesExhausted is returned by Report when failed records have
	// hit the retry cap and were dropped instead of requeued.
	ErrRetriesExhausted = errors.New("feed retries exhausted")
)

// Batch is one ordered delivery. Attempt is 0 for the first delivery and
// counts redeliveries of this batch's records.
type Batch struct {
	ID      string
	Attempt int
	Records []entity.ChangeEvent
}

// Source delivers batches and accepts failure reports.
type Source interface {
	// Next blocks until a batch is available, ctx is done, or the source
	// closes (ErrClosed).
	Next(ctx context.Context) (*Batch, error)
	// Report communicates the outcome for b: failed lists record indexes
	// to redeliver; an empty list acknowledges the whole batch. Returns
	// ErrRetriesExhausted when the failed records were dropped because
	// the retry cap was reached.
	Report(ctx context.Context, b *Batch, failed []int) error
}
