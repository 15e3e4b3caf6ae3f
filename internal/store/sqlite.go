package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"taskping/internal/entity"
	logx "taskping/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- profiles ----

type profileRow struct {
	UserID          string `db:"user_id"`
	Name            string `db:"name"`
	Location        string `db:"location"`
	AccountCode     string `db:"account_code"`
	Photos          string `db:"photos"`
	PushToken       string `db:"push_token"`
	LastProactiveAt *int64 `db:"last_proactive_at"`
}

func (r profileRow) toProfile() entity.Profile {
	p := entity.Profile{
		UserID:      r.UserID,
		Name:        r.Name,
		Location:    r.Location,
		AccountCode: r.AccountCode,
		PushToken:   r.PushToken,
	}
	if r.Photos != "" {
		_ = json.Unmarshal([]byte(r.Photos), &p.Photos)
	}
	if r.LastProactiveAt != nil {
		t := time.UnixMilli(*r.LastProactiveAt).UTC()
		p.LastProactiveAt = &t
	}
	return p
}

func (s *sqliteStore) GetProfile(ctx context.Context, userID string) (*entity.Profile, error) {
	var r profileRow
	err := s.db.GetContext(ctx, &r,
		`SELECT user_id, name, location, account_code, photos, push_token, last_proactive_at
		 FROM profiles WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p := r.toProfile()
	return &p, nil
}

func (s *sqliteStore) PutProfile(ctx context.Context, p entity.Profile) error {
	photos, err := json.Marshal(p.Photos)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	var last *int64
	if p.LastProactiveAt != nil {
		ms := p.LastProactiveAt.UnixMilli()
		last = &ms
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles(user_id, name, location, account_code, photos, push_token, last_proactive_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   name=excluded.name, location=excluded.location, account_code=excluded.account_code,
		   photos=excluded.photos, push_token=excluded.push_token, last_proactive_at=excluded.last_proactive_at`,
		p.UserID, p.Name, p.Location, p.AccountCode, string(photos), p.PushToken, last)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func (s *sqliteStore) BatchGetProfiles(ctx context.Context, userIDs []string) (map[string]entity.Profile, error) {
	out := make(map[string]entity.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT user_id, name, location, account_code, photos, push_token, last_proactive_at
		 FROM profiles WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("batch get profiles: %w", err)
	}
	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("batch get profiles: %w", err)
	}
	for _, r := range rows {
		out[r.UserID] = r.toProfile()
	}
	return out, nil
}

func (s *sqliteStore) ListPushableProfiles(ctx context.Context, limit int, cursor string) ([]entity.Profile, string, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT user_id, name, location, account_code, photos, push_token, last_proactive_at
		 FROM profiles WHERE push_token <> '' AND user_id > ?
		 ORDER BY user_id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list pushable profiles: %w", err)
	}
	items := make([]entity.Profile, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toProfile())
	}
	next := ""
	if len(rows) == limit {
		next = rows[len(rows)-1].UserID
	}
	return items, next, nil
}

func (s *sqliteStore) ClaimProactiveSlot(ctx context.Context, userID string, now time.Time, window time.Duration) (bool, error) {
	threshold := now.Add(-window).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET last_proactive_at = ?
		 WHERE user_id = ? AND (last_proactive_at IS NULL OR last_proactive_at <= ?)`,
		now.UnixMilli(), userID, threshold)
	if err != nil {
		return false, fmt.Errorf("claim proactive slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim proactive slot: %w", err)
	}
	return n > 0, nil
}

// ---- tasks ----

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*entity.Task, error) {
	var t entity.Task
	err := s.db.GetContext(ctx, &t, `SELECT id, category FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

func (s *sqliteStore) PutTask(ctx context.Context, t entity.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, category) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET category=excluded.category`,
		t.ID, t.Category)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

func (s *sqliteStore) BatchGetTasks(ctx context.Context, ids []string) (map[string]entity.Task, error) {
	out := make(map[string]entity.Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, category FROM tasks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("batch get tasks: %w", err)
	}
	var rows []entity.Task
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("batch get tasks: %w", err)
	}
	for _, t := range rows {
		out[t.ID] = t
	}
	return out, nil
}

// ---- notifications ----

type notificationRow struct {
	ID            string         `db:"id"`
	CreatedAt     int64          `db:"created_at"`
	DedupKey      sql.NullString `db:"dedup_key"`
	RecipientID   string         `db:"recipient_id"`
	Kind          string         `db:"kind"`
	SubjectID     string         `db:"subject_id"`
	ObjectID      string         `db:"object_id"`
	TransactionID string         `db:"transaction_id"`
	Title         string         `db:"title"`
	Body          string         `db:"body"`
}

func (r notificationRow) toNotification() entity.Notification {
	return entity.Notification{
		ID:            r.ID,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
		DedupKey:      r.DedupKey.String,
		RecipientID:   r.RecipientID,
		Kind:          r.Kind,
		SubjectID:     r.SubjectID,
		ObjectID:      r.ObjectID,
		TransactionID: r.TransactionID,
		Title:         r.Title,
		Body:          r.Body,
	}
}

func (s *sqliteStore) InsertNotification(ctx context.Context, n entity.Notification) (bool, error) {
	var key any
	if n.DedupKey != "" {
		key = n.DedupKey
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, created_at, dedup_key, recipient_id, kind, subject_id, object_id, transaction_id, title, body)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT DO NOTHING`,
		n.ID, n.CreatedAt.UnixNano(), key, n.RecipientID, n.Kind,
		n.SubjectID, n.ObjectID, n.TransactionID, n.Title, n.Body)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return rows > 0, nil
}

func (s *sqliteStore) ListNotifications(ctx context.Context, recipientID string, limit int, cursor string) ([]entity.Notification, string, error) {
	if limit <= 0 {
		limit = 50
	}
	before, beforeID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var rows []notificationRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT id, created_at, dedup_key, recipient_id, kind, subject_id, object_id, transaction_id, title, body
		 FROM notifications
		 WHERE recipient_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		recipientID, before, before, beforeID, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list notifications: %w", err)
	}
	items := make([]entity.Notification, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toNotification())
	}
	next := ""
	if len(rows) == limit {
		last := rows[len(rows)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return items, next, nil
}

// Cursor format: "<created_at unix nanos>:<id>". Opaque to callers.

func encodeCursor(createdAt int64, id string) string {
	return strconv.FormatInt(createdAt, 10) + ":" + id
}

func decodeCursor(cursor string) (int64, string, error) {
	if cursor == "" {
		// Sentinel newer than any stored record.
		return int64(1) << 62, "￿", nil
	}
	raw, id, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	return ns, id, nil
}
