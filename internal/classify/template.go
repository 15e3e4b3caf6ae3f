package classify

import "fmt"

// Text composition is deliberately separate from classification: the
// classifier decides whether and for whom, and the dispatcher composes
// text once profile and task lookups have run. Missing enrichment data
// falls back to placeholders instead of failing the notification.

const (
	fallbackSubject = "Someone"
	fallbackTask    = "task"
)

// Title returns the notification title for a kind.
func Title(kind Kind) string {
	switch kind {
	case KindNewApplication:
		return "New application"
	case KindNewReferral:
		return "New referral"
	case KindApplicationAccepted:
		return "Application accepted"
	case KindTransactionTerminated:
		return "Transaction ended"
	case KindNewMessage:
		return "New message"
	default:
		return "Notification"
	}
}

// Body composes the notification body from the kind and whatever
// enrichment data resolved. subjectName and taskCategory may be empty.
func Body(kind Kind, subjectName, taskCategory string, role SenderRole) string {
	subject := subjectName
	if subject == "" {
		subject = fallbackSubject
	}
	task := taskCategory
	if task == "" {
		task = fallbackTask
	} else {
		task = task + " task"
	}

	switch kind {
	case KindNewApplication:
		return fmt.Sprintf("%s applied for your %s", subject, task)
	case KindNewReferral:
		return fmt.Sprintf("%s referred a %s to you", subject, task)
	case KindApplicationAccepted:
		return fmt.Sprintf("%s accepted your application for the %s", subject, task)
	case KindTransactionTerminated:
		return fmt.Sprintf("Your %s with %s has ended", task, subject)
	case KindNewMessage:
		if role != "" {
			return fmt.Sprintf("%s (%s) sent you a message", subject, role)
		}
		return fmt.Sprintf("%s sent you a message", subject)
	default:
		return fmt.Sprintf("You have a new notification from %s", subject)
	}
}

// ProactiveTitle and ProactiveBody are the fixed template used by the
// cooldown-gated proactive push.
const (
	ProactiveTitle = "New tasks available"
	ProactiveBody  = "New tasks are waiting for you. Open the app to take a look."
)
