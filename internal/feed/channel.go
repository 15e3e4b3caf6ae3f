package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"taskping/internal/entity"
)

// ChannelSource is an in-process Source backed by a buffered channel.
// Failed records are requeued as a new attempt of the same batch ID until
// MaxRetries, then dropped.
type ChannelSource struct {
	maxRetries int

	queue chan *Batch
	done  chan struct{}
	once  sync.Once
}

type ChannelConfig struct {
	QueueSize  int // default 64
	MaxRetries int // redeliveries per batch before dropping, default 3
}

func NewChannelSource(cfg ChannelConfig) *ChannelSource {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &ChannelSource{
		maxRetries: retries,
		queue:      make(chan *Batch, size),
		done:       make(chan struct{}),
	}
}

// Submit enqueues one ordered batch of change events. Blocks when the
// queue is full; returns ErrClosed after Close.
func (s *ChannelSource) Submit(ctx context.Context, events []entity.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	b := &Batch{ID: uuid.NewString(), Records: events}
	return s.enqueue(ctx, b)
}

func (s *ChannelSource) enqueue(ctx context.Context, b *Batch) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.queue <- b:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSource) Next(ctx context.Context) (*Batch, error) {
	// Drain queued batches even after Close.
	select {
	case b := <-s.queue:
		return b, nil
	default:
	}
	select {
	case b := <-s.queue:
		return b, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ChannelSource) Report(ctx context.Context, b *Batch, failed []int) error {
	if b == nil || len(failed) == 0 {
		return nil
	}
	records := make([]entity.ChangeEvent, 0, len(failed))
	for _, idx := range failed {
		if idx >= 0 && idx < len(b.Records) {
			records = append(records, b.Records[idx])
		}
	}
	if len(records) == 0 {
		return nil
	}
	if b.Attempt >= s.maxRetries {
		return ErrRetriesExhausted
	}
	retry := &Batch{ID: b.ID, Attempt: b.Attempt + 1, Records: records}
	return s.enqueue(ctx, retry)
}

// Close stops intake. Batches already queued still drain through Next.
func (s *ChannelSource) Close() {
	s.once.Do(func() { close(s.done) })
}
