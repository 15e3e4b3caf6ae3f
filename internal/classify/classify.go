// Package classify maps transaction change events to notification
// intents. Classification is deterministic and side-effect-free: an
// explicit rule table is evaluated in order and the first matching rule
// wins. Most rules yield one intent; termination yields one per party.
// Events matching no rule yield nothing, which is not an error.
package classify

import (
	"taskping/internal/entity"
)

// Kind is the closed set of notification kinds.
type Kind string

const (
	KindNewApplication        Kind = "NEW_APPLICATION"
	KindNewReferral           Kind = "NEW_REFERRAL"
	KindApplicationAccepted   Kind = "APPLICATION_ACCEPTED"
	KindTransactionTerminated Kind = "TRANSACTION_TERMINATED"
	KindNewMessage            Kind = "NEW_MESSAGE"
)

// Kinds lists every notification kind, in rule-table order.
func Kinds() []Kind {
	return []Kind{
		KindNewApplication,
		KindNewReferral,
		KindApplicationAccepted,
		KindTransactionTerminated,
		KindNewMessage,
	}
}

// SenderRole tags the counterpart on a NEW_MESSAGE intent, derived from
// which party the receiver is in the transaction.
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleWorker   SenderRole = "worker"
	RoleReferral SenderRole = "referral"
)

// Intent is an in-memory decision that a notification should be created.
// It carries identifiers only; human-readable text is composed later,
// once enrichment data is available.
type Intent struct {
	RecipientID   string
	Kind          Kind
	SubjectID     string
	SubjectRole   SenderRole // set for NEW_MESSAGE only
	ObjectID      string     // task reference
	TransactionID string
}

type rule struct {
	name  string
	match func(ev entity.ChangeEvent) bool
	build func(ev entity.ChangeEvent) []Intent
}

// The table is ordered and evaluated first-match-wins. The status/type
// transitions are disjoint by construction, but a fixed order keeps
// classification deterministic even if that ever stops being true.
var rules = []rule{
	{
		name: "new application",
		match: func(ev entity.ChangeEvent) bool {
			return ev.Kind == entity.EventInsert &&
				ev.Current.Type == entity.TransactionApplication &&
				ev.Current.Status == entity.StatusApplied
		},
		build: func(ev entity.ChangeEvent) []Intent {
			return one(Intent{
				RecipientID:   ev.Current.CustomerID,
				Kind:          KindNewApplication,
				SubjectID:     ev.Current.WorkerID,
				ObjectID:      ev.Current.TaskID,
				TransactionID: ev.Current.ID,
			})
		},
	},
	{
		name: "new referral",
		match: func(ev entity.ChangeEvent) bool {
			return ev.Kind == entity.EventInsert &&
				ev.Current.Type == entity.TransactionReferral &&
				ev.Current.Status == entity.StatusInitiated
		},
		build: func(ev entity.ChangeEvent) []Intent {
			return one(Intent{
				RecipientID:   ev.Current.CustomerID,
				Kind:          KindNewReferral,
				SubjectID:     ev.Current.ReferrerID,
				ObjectID:      ev.Current.TaskID,
				TransactionID: ev.Current.ID,
			})
		},
	},
	{
		name: "application accepted",
		match: func(ev entity.ChangeEvent) bool {
			return ev.Kind == entity.EventModify &&
				ev.Current.Type == entity.TransactionApplication &&
				ev.Previous != nil &&
				ev.Previous.Status == entity.StatusApplied &&
				ev.Current.Status == entity.StatusApplicationAccepted
		},
		build: func(ev entity.ChangeEvent) []Intent {
			return one(Intent{
				RecipientID:   ev.Current.WorkerID,
				Kind:          KindApplicationAccepted,
				SubjectID:     ev.Current.CustomerID,
				ObjectID:      ev.Current.TaskID,
				TransactionID: ev.Current.ID,
			})
		},
	},
	{
		name: "transaction terminated",
		match: func(ev entity.ChangeEvent) bool {
			return ev.Kind == entity.EventModify &&
				ev.Current.Type == entity.TransactionApplication &&
				ev.Current.Status == entity.StatusTerminated
		},
		build: func(ev entity.ChangeEvent) []Intent {
			// One intent per party, subject swapped. A party with no
			// identifier is skipped rather than failing the event.
			out := one(Intent{
				RecipientID:   ev.Current.WorkerID,
				Kind:          KindTransactionTerminated,
				SubjectID:     ev.Current.CustomerID,
				ObjectID:      ev.Current.TaskID,
				TransactionID: ev.Current.ID,
			})
			return append(out, one(Intent{
				RecipientID:   ev.Current.CustomerID,
				Kind:          KindTransactionTerminated,
				SubjectID:     ev.Current.WorkerID,
				ObjectID:      ev.Current.TaskID,
				TransactionID: ev.Current.ID,
			})...)
		},
	},
	{
		name: "new message",
		match: func(ev entity.ChangeEvent) bool {
			return ev.Kind == entity.EventModify &&
				ev.Previous != nil &&
				ev.Current.LastMessage != ev.Previous.LastMessage
		},
		build: func(ev entity.ChangeEvent) []Intent {
			return one(Intent{
				RecipientID:   ev.Current.ReceiverID,
				Kind:          KindNewMessage,
				SubjectID:     ev.Current.SenderID,
				SubjectRole:   senderRole(ev.Current),
				ObjectID:      ev.Current.TaskID,
				TransactionID: ev.Current.ID,
			})
		},
	},
}

// Classify returns the notification intents warranted by ev: nil for an
// unmatched event, one intent for most rules, two for termination.
func Classify(ev entity.ChangeEvent) []Intent {
	for _, r := range rules {
		if r.match(ev) {
			return r.build(ev)
		}
	}
	return nil
}

// one drops intents without a recipient; a matched rule on a record with
// a missing party yields fewer intents instead of malformed ones.
func one(in Intent) []Intent {
	if in.RecipientID == "" {
		return nil
	}
	// A party never notifies itself.
	if in.SubjectID == in.RecipientID {
		in.SubjectID = ""
	}
	return []Intent{in}
}

// senderRole names the counterpart for a message notification by locating
// the receiver among the transaction's parties.
func senderRole(t entity.Transaction) SenderRole {
	if t.ReceiverID == "" {
		return ""
	}
	switch t.ReceiverID {
	case t.WorkerID:
		return RoleCustomer
	case t.CustomerID:
		if t.Type == entity.TransactionReferral {
			return RoleReferral
		}
		return RoleWorker
	case t.ReferrerID:
		return RoleCustomer
	default:
		return ""
	}
}
