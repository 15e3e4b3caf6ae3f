// Package store is the entity store gateway: typed read/write/query/batch
// access to the profile, task and notification collections.
//
// Two drivers exist. "sqlite" persists to a single database file and is
// the production default; "memory" keeps everything in process and is
// used by tests and dry runs. Batch reads return partial results: a
// missing key is never an error.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskping/internal/entity"
	logx "taskping/pkg/logx"
)

var ErrClosed = errors.New("store closed")

// Config configures the entity store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the pipeline.
//
// Get methods return (nil, nil) when the key is absent. BatchGet methods
// return a map containing only the keys that exist.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*entity.Profile, error)
	PutProfile(ctx context.Context, p entity.Profile) error
	BatchGetProfiles(ctx context.Context, userIDs []string) (map[string]entity.Profile, error)

	GetTask(ctx context.Context, id string) (*entity.Task, error)
	PutTask(ctx context.Context, t entity.Task) error
	BatchGetTasks(ctx context.Context, ids []string) (map[string]entity.Task, error)

	// InsertNotification writes n unless a record with the same dedup key
	// already exists. Returns false (and no error) for a duplicate.
	InsertNotification(ctx context.Context, n entity.Notification) (inserted bool, err error)

	// ListNotifications pages a recipient's notifications newest first.
	// cursor is opaque; "" starts from the newest record. nextCursor is ""
	// when the page is the last one.
	ListNotifications(ctx context.Context, recipientID string, limit int, cursor string) (items []entity.Notification, nextCursor string, err error)

	// ListPushableProfiles pages profiles that carry a push token, for the
	// proactive sweep.
	ListPushableProfiles(ctx context.Context, limit int, cursor string) (items []entity.Profile, nextCursor string, err error)

	// ClaimProactiveSlot advances the user's last-proactive timestamp to
	// now, but only if the previous value is absent or older than window.
	// Exactly one of any set of concurrent callers wins.
	ClaimProactiveSlot(ctx context.Context, userID string, now time.Time, window time.Duration) (claimed bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
