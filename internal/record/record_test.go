package record

import (
	"context"
	"testing"

	"taskping/internal/classify"
	"taskping/internal/entity"
	"taskping/internal/enrich"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

func acceptedIntent() classify.Intent {
	return classify.Intent{
		RecipientID:   "worker-1",
		Kind:          classify.KindApplicationAccepted,
		SubjectID:     "cust-1",
		ObjectID:      "task-1",
		TransactionID: "txn-1",
	}
}

func TestPersistComposesRecord(t *testing.T) {
	t.Parallel()
	r := NewRecorder(store.NewMemory(), logx.Nop())

	n, inserted, err := r.Persist(context.Background(), enrich.Enriched{
		Intent:  acceptedIntent(),
		Subject: &entity.Profile{UserID: "cust-1", Name: "Kim"},
		Task:    &entity.Task{ID: "task-1", Category: "Plumbing"},
	})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if !inserted {
		t.Fatal("expected first persist to insert")
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("record missing identity: %+v", n)
	}
	if n.Title != "Application accepted" {
		t.Fatalf("Title = %q", n.Title)
	}
	if n.Body != "Kim accepted your application for the Plumbing task" {
		t.Fatalf("Body = %q", n.Body)
	}
	if n.DedupKey == "" {
		t.Fatal("expected a dedup key for a transaction-backed record")
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	r := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	e := enrich.Enriched{Intent: acceptedIntent()}
	if _, inserted, err := r.Persist(ctx, e); err != nil || !inserted {
		t.Fatalf("first persist: inserted=%v err=%v", inserted, err)
	}
	// Redelivery of the same change event gets a fresh record ID but the
	// same dedup key, and must be suppressed.
	if _, inserted, err := r.Persist(ctx, e); err != nil {
		t.Fatalf("second persist: %v", err)
	} else if inserted {
		t.Fatal("expected duplicate to be suppressed")
	}

	items, _, err := st.ListNotifications(ctx, "worker-1", 10, "")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("stored records = %d, want 1", len(items))
	}
}

func TestPersistFallbackText(t *testing.T) {
	t.Parallel()
	r := NewRecorder(store.NewMemory(), logx.Nop())

	n, _, err := r.Persist(context.Background(), enrich.Enriched{Intent: acceptedIntent()})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if n.Body != "Someone accepted your application for the task" {
		t.Fatalf("Body = %q, want placeholder fallbacks", n.Body)
	}
}

func TestDedupKey(t *testing.T) {
	t.Parallel()

	a := DedupKey("txn-1", classify.KindNewMessage, "user-1")
	b := DedupKey("txn-1", classify.KindNewMessage, "user-1")
	if a == "" || a != b {
		t.Fatalf("key not stable: %q vs %q", a, b)
	}

	variants := []string{
		DedupKey("txn-2", classify.KindNewMessage, "user-1"),
		DedupKey("txn-1", classify.KindNewApplication, "user-1"),
		DedupKey("txn-1", classify.KindNewMessage, "user-2"),
	}
	for i, v := range variants {
		if v == a {
			t.Fatalf("variant %d collided with base key", i)
		}
	}

	if got := DedupKey("", classify.KindNewMessage, "user-1"); got != "" {
		t.Fatalf("DedupKey without transaction = %q, want empty", got)
	}
}
