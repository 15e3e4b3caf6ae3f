package proactive

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskping/internal/cooldown"
	"taskping/internal/dispatch"
	"taskping/internal/entity"
	"taskping/internal/push"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

type countSender struct {
	mu   sync.Mutex
	sent []push.Message
}

func (c *countSender) ValidateToken(token string) bool { return push.ValidToken(token) }
func (c *countSender) ChunkLimit() int                 { return push.DefaultChunkLimit }
func (c *countSender) Send(_ context.Context, msgs []push.Message) ([]push.Ticket, error) {
	c.mu.Lock()
	c.sent = append(c.sent, msgs...)
	c.mu.Unlock()
	tickets := make([]push.Ticket, len(msgs))
	for i := range msgs {
		tickets[i] = push.Ticket{Status: "ok"}
	}
	return tickets, nil
}

func (c *countSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newSweepFixture(t *testing.T, pageSize int) (*Sweeper, store.Store, *countSender) {
	t.Helper()
	st := store.NewMemory()
	sender := &countSender{}
	d := dispatch.New(sender, dispatch.Config{RatePerSec: 10000}, logx.Nop(), nil)
	gate := cooldown.NewGate(st, d, 12*time.Hour, logx.Nop(), nil)
	s := New(st, gate, Config{Enabled: true, Schedule: DefaultSchedule, PageSize: pageSize}, logx.Nop())
	return s, st, sender
}

func TestSweepPushesEveryEligibleProfile(t *testing.T) {
	t.Parallel()
	s, st, sender := newSweepFixture(t, 3)
	ctx := context.Background()

	// 7 tokened profiles across several pages, 3 without a token.
	for i := 0; i < 10; i++ {
		p := entity.Profile{UserID: fmt.Sprintf("u%02d", i)}
		if i < 7 {
			p.PushToken = fmt.Sprintf("ExponentPushToken[u%02d]", i)
		}
		if err := st.PutProfile(ctx, p); err != nil {
			t.Fatalf("PutProfile: %v", err)
		}
	}

	s.Sweep(ctx)
	if got := sender.count(); got != 7 {
		t.Fatalf("pushes = %d, want 7", got)
	}
}

func TestSweepRespectsCooldown(t *testing.T) {
	t.Parallel()
	s, st, sender := newSweepFixture(t, 10)
	ctx := context.Background()

	recent := time.Now().UTC().Add(-time.Hour)
	stale := time.Now().UTC().Add(-24 * time.Hour)
	profiles := []entity.Profile{
		{UserID: "fresh", PushToken: "ExponentPushToken[f]", LastProactiveAt: &recent},
		{UserID: "stale", PushToken: "ExponentPushToken[s]", LastProactiveAt: &stale},
		{UserID: "new", PushToken: "ExponentPushToken[n]"},
	}
	for _, p := range profiles {
		if err := st.PutProfile(ctx, p); err != nil {
			t.Fatalf("PutProfile: %v", err)
		}
	}

	s.Sweep(ctx)
	if got := sender.count(); got != 2 {
		t.Fatalf("pushes = %d, want 2 (stale and new only)", got)
	}

	// A second sweep right away sends nothing.
	s.Sweep(ctx)
	if got := sender.count(); got != 2 {
		t.Fatalf("pushes after second sweep = %d, want still 2", got)
	}
}

func TestSweepStopsOnCancel(t *testing.T) {
	t.Parallel()
	s, st, sender := newSweepFixture(t, 2)

	for i := 0; i < 6; i++ {
		if err := st.PutProfile(context.Background(), entity.Profile{
			UserID:    fmt.Sprintf("u%d", i),
			PushToken: fmt.Sprintf("ExponentPushToken[u%d]", i),
		}); err != nil {
			t.Fatalf("PutProfile: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sweep(ctx)
	if got := sender.count(); got != 0 {
		t.Fatalf("pushes = %d, want 0 after pre-cancelled sweep", got)
	}
}
