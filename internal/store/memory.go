package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskping/internal/entity"
)

// memoryStore keeps all three collections in process. It mirrors the
// sqlite driver's semantics (partial batch results, conditional insert,
// conditional proactive claim) and is safe for concurrent use.
type memoryStore struct {
	mu            sync.Mutex
	profiles      map[string]entity.Profile
	tasks         map[string]entity.Task
	notifications []entity.Notification
	dedup         map[string]struct{}
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		profiles: map[string]entity.Profile{},
		tasks:    map[string]entity.Task{},
		dedup:    map[string]struct{}{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) GetProfile(_ context.Context, userID string) (*entity.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memoryStore) PutProfile(_ context.Context, p entity.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

func (m *memoryStore) BatchGetProfiles(_ context.Context, userIDs []string) (map[string]entity.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]entity.Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memoryStore) ListPushableProfiles(_ context.Context, limit int, cursor string) ([]entity.Profile, string, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.profiles))
	for id, p := range m.profiles {
		if p.PushToken != "" && id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	items := make([]entity.Profile, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.profiles[id])
	}
	next := ""
	if len(ids) == limit {
		next = ids[len(ids)-1]
	}
	return items, next, nil
}

func (m *memoryStore) ClaimProactiveSlot(_ context.Context, userID string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return false, nil
	}
	if p.LastProactiveAt != nil && p.LastProactiveAt.After(now.Add(-window)) {
		return false, nil
	}
	t := now
	p.LastProactiveAt = &t
	m.profiles[userID] = p
	return true, nil
}

func (m *memoryStore) GetTask(_ context.Context, id string) (*entity.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memoryStore) PutTask(_ context.Context, t entity.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memoryStore) BatchGetTasks(_ context.Context, ids []string) (map[string]entity.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]entity.Task, len(ids))
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (m *memoryStore) InsertNotification(_ context.Context, n entity.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.DedupKey != "" {
		if _, dup := m.dedup[n.DedupKey]; dup {
			return false, nil
		}
		m.dedup[n.DedupKey] = struct{}{}
	}
	m.notifications = append(m.notifications, n)
	return true, nil
}

func (m *memoryStore) ListNotifications(_ context.Context, recipientID string, limit int, cursor string) ([]entity.Notification, string, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]entity.Notification, 0)
	for _, n := range m.notifications {
		if n.RecipientID == recipientID {
			matched = append(matched, n)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if cursor != "" {
		ns, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		before := time.Unix(0, ns).UTC()
		kept := matched[:0]
		for _, n := range matched {
			if n.CreatedAt.Before(before) || (n.CreatedAt.Equal(before) && n.ID < id) {
				kept = append(kept, n)
			}
		}
		matched = kept
	}

	if len(matched) > limit {
		matched = matched[:limit]
	}
	next := ""
	if len(matched) == limit {
		last := matched[len(matched)-1]
		next = encodeCursor(last.CreatedAt.UnixNano(), last.ID)
	}
	return matched, next, nil
}
