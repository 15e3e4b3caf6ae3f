// Package dispatch converts persisted notifications into push messages
// and sends them through the transport in isolated chunks.
//
// Failure isolation is the point: an invalid token fails only that
// recipient, a transport error on one chunk fails only that chunk's
// messages, and later chunks are always still attempted. There is no
// retry here; redelivery is the change feed's responsibility and the
// recorder's dedup keys make it safe.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"taskping/internal/entity"
	"taskping/internal/eventbus"
	"taskping/internal/push"
	logx "taskping/pkg/logx"
)

// Outbound pairs a persisted notification record with the recipient
// profile resolved for it. Recipient may be nil (absent profile).
type Outbound struct {
	Record    entity.Notification
	Recipient *entity.Profile
}

// Failure is one undeliverable message. Never a Go error: delivery
// failures are data, reported per recipient.
type Failure struct {
	NotificationID string
	RecipientID    string
	Reason         string
}

// Outcome is the per-batch delivery result. Tickets arrive in send order
// and can be used for later delivery-status polling.
type Outcome struct {
	Tickets  []push.Ticket
	Failures []Failure
}

type Config struct {
	RatePerSec int // chunk sends per second; default 10
}

type Dispatcher struct {
	sender push.Sender
	log    logx.Logger
	bus    eventbus.Bus

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(sender push.Sender, cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, log: log, bus: bus}
	d.Apply(cfg)
	return d
}

// Apply updates rate limiting at runtime (config hot reload).
func (d *Dispatcher) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	d.mu.Lock()
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	d.mu.Unlock()
}

func (d *Dispatcher) rateLimiter() *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limiter
}

// Dispatch sends every outbound notification that has a valid push token.
// Tokenless or invalid-token recipients become failures without aborting
// anything else.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Outbound) Outcome {
	var out Outcome

	type pending struct {
		msg    push.Message
		record entity.Notification
	}
	sendable := make([]pending, 0, len(batch))

	for _, ob := range batch {
		token := ""
		if ob.Recipient != nil {
			token = ob.Recipient.PushToken
		}
		if token == "" {
			out.Failures = append(out.Failures, Failure{
				NotificationID: ob.Record.ID,
				RecipientID:    ob.Record.RecipientID,
				Reason:         "no push token",
			})
			continue
		}
		if !d.sender.ValidateToken(token) {
			out.Failures = append(out.Failures, Failure{
				NotificationID: ob.Record.ID,
				RecipientID:    ob.Record.RecipientID,
				Reason:         "invalid push token",
			})
			continue
		}
		sendable = append(sendable, pending{
			msg: push.Message{
				To:    token,
				Title: ob.Record.Title,
				Body:  ob.Record.Body,
				Badge: 1,
				Data: map[string]string{
					"notificationId": ob.Record.ID,
					"kind":           ob.Record.Kind,
					"transactionId":  ob.Record.TransactionID,
					"objectId":       ob.Record.ObjectID,
				},
			},
			record: ob.Record,
		})
	}

	lim := d.rateLimiter()
	for _, group := range chunk(sendable, d.sender.ChunkLimit()) {
		msgs := make([]push.Message, len(group))
		for i, p := range group {
			msgs[i] = p.msg
		}

		if err := lim.Wait(ctx); err != nil {
			// Cancelled mid-batch: everything not yet sent is a failure.
			for _, p := range group {
				out.Failures = append(out.Failures, Failure{
					NotificationID: p.record.ID,
					RecipientID:    p.record.RecipientID,
					Reason:         "cancelled before send",
				})
			}
			continue
		}

		tickets, err := d.sender.Send(ctx, msgs)
		if err != nil {
			d.log.Warn("push chunk failed", logx.Int("messages", len(group)), logx.Err(err))
			for _, p := range group {
				out.Failures = append(out.Failures, Failure{
					NotificationID: p.record.ID,
					RecipientID:    p.record.RecipientID,
					Reason:         "chunk send failed: " + err.Error(),
				})
			}
			continue
		}

		out.Tickets = append(out.Tickets, tickets...)
		if d.bus != nil {
			for _, p := range group {
				d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatched, Data: DispatchEvent{
					NotificationID: p.record.ID,
					RecipientID:    p.record.RecipientID,
					Kind:           p.record.Kind,
				}})
			}
		}
	}

	if d.bus != nil {
		for _, f := range out.Failures {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeFailed, Data: FailureEvent{
				NotificationID: f.NotificationID,
				RecipientID:    f.RecipientID,
				Reason:         f.Reason,
			}})
		}
	}
	return out
}

// DispatchEvent is the bus payload for a delivered message.
type DispatchEvent struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Kind           string `json:"kind"`
}

// FailureEvent is the bus payload for an undeliverable message.
type FailureEvent struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Reason         string `json:"reason"`
}

// chunk splits items into groups of at most size, preserving order. The
// last group carries the remainder.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
