// Package record persists notification intents as durable records.
//
// Persistence is idempotent under change-feed redelivery: every record
// derives a deduplication key from (transaction, kind, recipient) and the
// store performs a conditional write that no-ops when a record with that
// key already exists. Dedup is permanent; there is no expiry window.
package record

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"taskping/internal/classify"
	"taskping/internal/entity"
	"taskping/internal/enrich"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

type Recorder struct {
	store store.Store
	log   logx.Logger

	// Swappable for tests.
	now   func() time.Time
	newID func() string
}

func NewRecorder(st store.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store: st,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// Persist writes e as a notification record with a fresh identifier and
// timestamp. Returns inserted=false when a record with the same dedup key
// already exists; the caller should then skip dispatch so a retried batch
// never pushes twice. A storage failure propagates so the feed can retry
// the record.
func (r *Recorder) Persist(ctx context.Context, e enrich.Enriched) (entity.Notification, bool, error) {
	in := e.Intent

	subjectName := ""
	if e.Subject != nil {
		subjectName = e.Subject.Name
	}
	category := ""
	if e.Task != nil {
		category = e.Task.Category
	}

	n := entity.Notification{
		ID:            r.newID(),
		CreatedAt:     r.now(),
		DedupKey:      DedupKey(in.TransactionID, in.Kind, in.RecipientID),
		RecipientID:   in.RecipientID,
		Kind:          string(in.Kind),
		SubjectID:     in.SubjectID,
		ObjectID:      in.ObjectID,
		TransactionID: in.TransactionID,
		Title:         classify.Title(in.Kind),
		Body:          classify.Body(in.Kind, subjectName, category, in.SubjectRole),
	}

	inserted, err := r.store.InsertNotification(ctx, n)
	if err != nil {
		return entity.Notification{}, false, fmt.Errorf("persist notification: %w", err)
	}
	if !inserted {
		r.log.Debug("duplicate notification suppressed",
			logx.String("transaction", in.TransactionID),
			logx.String("kind", string(in.Kind)),
			logx.String("recipient", in.RecipientID))
	}
	return n, inserted, nil
}

// DedupKey derives the idempotency key for a notification. Empty when the
// intent has no transaction reference, which disables deduplication for
// that record.
func DedupKey(transactionID string, kind classify.Kind, recipientID string) string {
	if transactionID == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(transactionID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(recipientID))
	return fmt.Sprintf("%x", h.Sum64())
}
