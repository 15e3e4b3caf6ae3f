package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"taskping/internal/entity"
	"taskping/internal/push"
	logx "taskping/pkg/logx"
)

// fakeSender records Send calls and fails the chunks listed in failChunks.
type fakeSender struct {
	limit      int
	calls      [][]push.Message
	failChunks map[int]bool
}

func (f *fakeSender) ValidateToken(token string) bool { return push.ValidToken(token) }

func (f *fakeSender) ChunkLimit() int {
	if f.limit <= 0 {
		return push.DefaultChunkLimit
	}
	return f.limit
}

func (f *fakeSender) Send(_ context.Context, msgs []push.Message) ([]push.Ticket, error) {
	call := len(f.calls)
	f.calls = append(f.calls, msgs)
	if f.failChunks[call] {
		return nil, errors.New("transport down")
	}
	tickets := make([]push.Ticket, len(msgs))
	for i := range msgs {
		tickets[i] = push.Ticket{ID: fmt.Sprintf("ticket-%d-%d", call, i), Status: "ok"}
	}
	return tickets, nil
}

func outboundTo(id, token string) Outbound {
	ob := Outbound{Record: entity.Notification{
		ID:            "ntf-" + id,
		RecipientID:   "user-" + id,
		Kind:          "NEW_MESSAGE",
		TransactionID: "txn-1",
		Title:         "New message",
		Body:          "Kim sent you a message",
	}}
	if token != "" {
		ob.Recipient = &entity.Profile{UserID: "user-" + id, PushToken: token}
	}
	return ob
}

func TestDispatchTokenFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	d := New(fs, Config{RatePerSec: 1000}, logx.Nop(), nil)

	out := d.Dispatch(context.Background(), []Outbound{
		outboundTo("a", "ExponentPushToken[a]"),
		outboundTo("b", ""),
		outboundTo("c", "not-a-token"),
		outboundTo("d", "ExponentPushToken[d]"),
	})

	if len(out.Tickets) != 2 {
		t.Fatalf("tickets = %d, want 2", len(out.Tickets))
	}
	if len(out.Failures) != 2 {
		t.Fatalf("failures = %d, want 2: %+v", len(out.Failures), out.Failures)
	}
	if out.Failures[0].RecipientID != "user-b" || out.Failures[0].Reason != "no push token" {
		t.Fatalf("failure[0] = %+v", out.Failures[0])
	}
	if out.Failures[1].RecipientID != "user-c" || out.Failures[1].Reason != "invalid push token" {
		t.Fatalf("failure[1] = %+v", out.Failures[1])
	}
	if len(fs.calls) != 1 || len(fs.calls[0]) != 2 {
		t.Fatalf("expected one chunk of 2 sendable messages, got %+v", fs.calls)
	}
}

func TestDispatchChunkFailureDoesNotAbortLaterChunks(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{limit: 2, failChunks: map[int]bool{1: true}}
	d := New(fs, Config{RatePerSec: 1000}, logx.Nop(), nil)

	batch := make([]Outbound, 0, 6)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("%d", i)
		batch = append(batch, outboundTo(id, "ExponentPushToken["+id+"]"))
	}
	out := d.Dispatch(context.Background(), batch)

	if len(fs.calls) != 3 {
		t.Fatalf("send calls = %d, want 3 chunks", len(fs.calls))
	}
	// Middle chunk failed: its 2 messages become failures, the other 4 get tickets.
	if len(out.Tickets) != 4 {
		t.Fatalf("tickets = %d, want 4", len(out.Tickets))
	}
	if len(out.Failures) != 2 {
		t.Fatalf("failures = %d, want 2: %+v", len(out.Failures), out.Failures)
	}
	for _, f := range out.Failures {
		if !strings.HasPrefix(f.Reason, "chunk send failed") {
			t.Fatalf("unexpected failure reason %q", f.Reason)
		}
	}
	if out.Failures[0].RecipientID != "user-2" || out.Failures[1].RecipientID != "user-3" {
		t.Fatalf("wrong recipients failed: %+v", out.Failures)
	}
}

func TestDispatchComposesMessage(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	d := New(fs, Config{RatePerSec: 1000}, logx.Nop(), nil)

	ob := outboundTo("a", "ExponentPushToken[a]")
	ob.Record.ObjectID = "task-9"
	d.Dispatch(context.Background(), []Outbound{ob})

	if len(fs.calls) != 1 || len(fs.calls[0]) != 1 {
		t.Fatalf("calls = %+v", fs.calls)
	}
	msg := fs.calls[0][0]
	if msg.To != "ExponentPushToken[a]" || msg.Title != "New message" || msg.Badge != 1 {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Data["notificationId"] != "ntf-a" || msg.Data["kind"] != "NEW_MESSAGE" ||
		msg.Data["transactionId"] != "txn-1" || msg.Data["objectId"] != "task-9" {
		t.Fatalf("msg.Data = %+v", msg.Data)
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	d := New(fs, Config{RatePerSec: 1}, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Dispatch(ctx, []Outbound{outboundTo("a", "ExponentPushToken[a]")})

	if len(out.Failures) != 1 || out.Failures[0].Reason != "cancelled before send" {
		t.Fatalf("failures = %+v", out.Failures)
	}
	if len(fs.calls) != 0 {
		t.Fatal("expected no send after cancellation")
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		items int
		size  int
		want  []int // group lengths
	}{
		{name: "empty", items: 0, size: 3, want: nil},
		{name: "exact multiple", items: 6, size: 3, want: []int{3, 3}},
		{name: "remainder", items: 7, size: 3, want: []int{3, 3, 1}},
		{name: "single small group", items: 2, size: 100, want: []int{2}},
		{name: "zero size takes all", items: 4, size: 0, want: []int{4}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			items := make([]int, tt.items)
			for i := range items {
				items[i] = i
			}
			got := chunk(items, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %d, want %d", len(got), len(tt.want))
			}
			next := 0
			for i, g := range got {
				if len(g) != tt.want[i] {
					t.Fatalf("chunk[%d] len = %d, want %d", i, len(g), tt.want[i])
				}
				for _, v := range g {
					if v != next {
						t.Fatalf("order broken at %d: got %d", next, v)
					}
					next++
				}
			}
		})
	}
}
