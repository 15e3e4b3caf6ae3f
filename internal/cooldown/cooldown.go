// Package cooldown rate-limits proactive "new tasks available" pushes to
// one per recipient per window.
//
// The timestamp advances before the send (a conditional store update), so
// two concurrent invocations for the same user cannot both send; the
// price is that a failed send still consumes the slot, which is the safe
// direction for a proactive nudge.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"taskping/internal/classify"
	"taskping/internal/dispatch"
	"taskping/internal/entity"
	"taskping/internal/eventbus"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

// DefaultWindow is the minimum gap between proactive pushes to one user.
const DefaultWindow = 12 * time.Hour

// kindProactive labels proactive pushes on the wire and in events; it is
// not a classifier kind because no change event produces it.
const kindProactive = "NEW_TASKS_AVAILABLE"

type Gate struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	window     time.Duration
	log        logx.Logger
	bus        eventbus.Bus

	now func() time.Time // swappable for tests
}

func NewGate(st store.Store, d *dispatch.Dispatcher, window time.Duration, log logx.Logger, bus eventbus.Bus) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		store:      st,
		dispatcher: d,
		window:     window,
		log:        log,
		bus:        bus,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// MaybeSend pushes the proactive template to userID unless the user has
// no push token or was already nudged within the window. Returns whether
// a push went out.
func (g *Gate) MaybeSend(ctx context.Context, userID string) (bool, error) {
	profile, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("proactive profile read: %w", err)
	}
	if profile == nil || profile.PushToken == "" {
		g.skip(userID, "no push token")
		return false, nil
	}

	claimed, err := g.store.ClaimProactiveSlot(ctx, userID, g.now(), g.window)
	if err != nil {
		return false, fmt.Errorf("proactive slot claim: %w", err)
	}
	if !claimed {
		g.skip(userID, "cooldown active")
		return false, nil
	}

	out := g.dispatcher.Dispatch(ctx, []dispatch.Outbound{{
		Record: entity.Notification{
			RecipientID: userID,
			Kind:        kindProactive,
			Title:       classify.ProactiveTitle,
			Body:        classify.ProactiveBody,
		},
		Recipient: profile,
	}})
	if len(out.Failures) > 0 {
		// Slot stays consumed; re-nudging after a delivery failure is
		// exactly the duplicate-send shape the gate exists to prevent.
		g.log.Warn("proactive push not delivered",
			logx.String("user", userID), logx.String("reason", out.Failures[0].Reason))
		return false, nil
	}

	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeProactiveSent, Data: ProactiveEvent{UserID: userID}})
	}
	g.log.Debug("proactive push sent", logx.String("user", userID))
	return true, nil
}

func (g *Gate) skip(userID, reason string) {
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeProactiveSkipped, Data: ProactiveEvent{UserID: userID, Reason: reason}})
	}
}

// ProactiveEvent is the bus payload for proactive gate decisions.
type ProactiveEvent struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}
