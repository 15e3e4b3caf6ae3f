package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"taskping/internal/classify"
	"taskping/internal/entity"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

// countingStore tracks batch reads and can fail them on demand.
type countingStore struct {
	store.Store
	profileCalls atomic.Int32
	taskCalls    atomic.Int32
	profileKeys  atomic.Int32
	failProfiles bool
	failTasks    bool
}

func (c *countingStore) BatchGetProfiles(ctx context.Context, ids []string) (map[string]entity.Profile, error) {
	c.profileCalls.Add(1)
	c.profileKeys.Add(int32(len(ids)))
	if c.failProfiles {
		return nil, errors.New("profiles unavailable")
	}
	return c.Store.BatchGetProfiles(ctx, ids)
}

func (c *countingStore) BatchGetTasks(ctx context.Context, ids []string) (map[string]entity.Task, error) {
	c.taskCalls.Add(1)
	if c.failTasks {
		return nil, errors.New("tasks unavailable")
	}
	return c.Store.BatchGetTasks(ctx, ids)
}

func seedStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	for _, p := range []entity.Profile{
		{UserID: "worker-1", Name: "Alex"},
		{UserID: "cust-1", Name: "Kim"},
	} {
		if err := st.PutProfile(ctx, p); err != nil {
			t.Fatalf("PutProfile: %v", err)
		}
	}
	if err := st.PutTask(ctx, entity.Task{ID: "task-1", Category: "Plumbing"}); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	return st
}

func TestResolveAttachesProfilesAndTask(t *testing.T) {
	t.Parallel()
	r := NewResolver(seedStore(t), logx.Nop())

	got := r.Resolve(context.Background(), []classify.Intent{{
		RecipientID: "worker-1", Kind: classify.KindApplicationAccepted,
		SubjectID: "cust-1", ObjectID: "task-1", TransactionID: "txn-1",
	}})
	if len(got) != 1 {
		t.Fatalf("Resolve returned %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Recipient == nil || e.Recipient.Name != "Alex" {
		t.Fatalf("Recipient = %+v, want Alex", e.Recipient)
	}
	if e.Subject == nil || e.Subject.Name != "Kim" {
		t.Fatalf("Subject = %+v, want Kim", e.Subject)
	}
	if e.Task == nil || e.Task.Category != "Plumbing" {
		t.Fatalf("Task = %+v, want Plumbing", e.Task)
	}
}

func TestResolveBatchesLookupsAcrossIntents(t *testing.T) {
	t.Parallel()
	cs := &countingStore{Store: seedStore(t)}
	r := NewResolver(cs, logx.Nop())

	// Overlapping identifiers across intents must collapse into one
	// batched read per entity kind.
	intents := []classify.Intent{
		{RecipientID: "cust-1", SubjectID: "worker-1", ObjectID: "task-1"},
		{RecipientID: "worker-1", SubjectID: "cust-1", ObjectID: "task-1"},
		{RecipientID: "cust-1", SubjectID: "worker-1", ObjectID: "task-1"},
	}
	if got := r.Resolve(context.Background(), intents); len(got) != 3 {
		t.Fatalf("Resolve returned %d entries, want 3", len(got))
	}
	if n := cs.profileCalls.Load(); n != 1 {
		t.Fatalf("profile batch calls = %d, want 1", n)
	}
	if n := cs.taskCalls.Load(); n != 1 {
		t.Fatalf("task batch calls = %d, want 1", n)
	}
	if n := cs.profileKeys.Load(); n != 2 {
		t.Fatalf("profile keys requested = %d, want 2 distinct", n)
	}
}

func TestResolveMissingEntitiesYieldAbsence(t *testing.T) {
	t.Parallel()
	r := NewResolver(store.NewMemory(), logx.Nop())

	got := r.Resolve(context.Background(), []classify.Intent{{
		RecipientID: "ghost", SubjectID: "ghost-2", ObjectID: "no-task",
	}})
	if len(got) != 1 {
		t.Fatalf("Resolve returned %d entries, want 1", len(got))
	}
	if got[0].Recipient != nil || got[0].Subject != nil || got[0].Task != nil {
		t.Fatalf("expected all-nil enrichment, got %+v", got[0])
	}
}

func TestResolveDegradesOnBatchReadFailure(t *testing.T) {
	t.Parallel()
	cs := &countingStore{Store: seedStore(t), failProfiles: true}
	r := NewResolver(cs, logx.Nop())

	got := r.Resolve(context.Background(), []classify.Intent{{
		RecipientID: "worker-1", SubjectID: "cust-1", ObjectID: "task-1",
	}})
	if len(got) != 1 {
		t.Fatalf("Resolve returned %d entries, want 1", len(got))
	}
	// Profiles degraded to absence; the unaffected task read still lands.
	if got[0].Recipient != nil || got[0].Subject != nil {
		t.Fatalf("expected nil profiles after degraded read, got %+v", got[0])
	}
	if got[0].Task == nil || got[0].Task.Category != "Plumbing" {
		t.Fatalf("Task = %+v, want Plumbing", got[0].Task)
	}
}

func TestResolveEmptyInput(t *testing.T) {
	t.Parallel()
	cs := &countingStore{Store: store.NewMemory()}
	r := NewResolver(cs, logx.Nop())
	if got := r.Resolve(context.Background(), nil); got != nil {
		t.Fatalf("Resolve(nil) = %+v, want nil", got)
	}
	if cs.profileCalls.Load() != 0 || cs.taskCalls.Load() != 0 {
		t.Fatal("expected no store reads for empty input")
	}
}
