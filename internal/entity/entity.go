package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind is the change-feed record type.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventModify EventKind = "MODIFY"
)

// Transaction type values.
const (
	TransactionApplication = "application"
	TransactionReferral    = "referral"
)

// Transaction status values observed on the change feed.
const (
	StatusApplied             = "applied"
	StatusInitiated           = "initiated"
	StatusApplicationAccepted = "applicationAccepted"
	StatusTerminated          = "terminated"
)

// Transaction is a snapshot of a transaction record as carried on the
// change feed. Immutable once read.
type Transaction struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	WorkerID    string `json:"workerId"`
	CustomerID  string `json:"customerId"`
	ReferrerID  string `json:"referrerId"`
	TaskID      string `json:"taskId"`
	LastMessage string `json:"lastMessage"`
	SenderID    string `json:"senderId"`
	ReceiverID  string `json:"receiverId"`
}

// ChangeEvent is one record delivered by the change feed. Previous is nil
// for inserts.
type ChangeEvent struct {
	Kind     EventKind    `json:"kind"`
	Previous *Transaction `json:"previous,omitempty"`
	Current  Transaction  `json:"current"`
}

var (
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrMissingImage     = errors.New("event is missing its current image")
)

// Validate checks the minimal shape a feed record must have before the
// classifier sees it. Rule-specific field checks happen in the classifier.
func (e ChangeEvent) Validate() error {
	switch e.Kind {
	case EventInsert, EventModify:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, string(e.Kind))
	}
	if strings.TrimSpace(e.Current.ID) == "" {
		return ErrMissingImage
	}
	return nil
}

// Profile is a user profile snapshot. Read-only to this codebase except
// LastProactiveAt, which the cooldown gate advances.
type Profile struct {
	UserID          string     `json:"userId" db:"user_id"`
	Name            string     `json:"name" db:"name"`
	Location        string     `json:"location" db:"location"`
	AccountCode     string     `json:"accountCode" db:"account_code"`
	Photos          []string   `json:"photos" db:"-"`
	PushToken       string     `json:"pushToken" db:"push_token"`
	LastProactiveAt *time.Time `json:"lastProactiveAt,omitempty" db:"last_proactive_at"`
}

// ProfilePhoto returns the primary photo, or "" when none is set.
func (p Profile) ProfilePhoto() string {
	if len(p.Photos) == 0 {
		return ""
	}
	return p.Photos[0]
}

// Task is the minimal task snapshot needed for notification text.
type Task struct {
	ID       string `json:"id" db:"id"`
	Category string `json:"category" db:"category"`
}

// Notification is the durable record produced by the recorder. Created
// once, never mutated; deletion is an external CRUD concern.
type Notification struct {
	ID            string    `json:"id" db:"id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	DedupKey      string    `json:"-" db:"dedup_key"`
	RecipientID   string    `json:"recipientUserId" db:"recipient_id"`
	Kind          string    `json:"kind" db:"kind"`
	SubjectID     string    `json:"subjectUserId,omitempty" db:"subject_id"`
	ObjectID      string    `json:"objectId,omitempty" db:"object_id"`
	TransactionID string    `json:"transactionId,omitempty" db:"transaction_id"`
	Title         string    `json:"title" db:"title"`
	Body          string    `json:"body" db:"body"`
}
