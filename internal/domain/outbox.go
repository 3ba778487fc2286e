package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus tracks delivery of a notification intent.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxInProgress OutboxStatus = "in_progress"
	OutboxSent       OutboxStatus = "sent"
	OutboxCapped     OutboxStatus = "capped"
	OutboxBlocked    OutboxStatus = "blocked"
	OutboxError      OutboxStatus = "error"
)

// Dispatchable reports whether a dispatcher run may pick the entry up.
// Capped and blocked entries wait for a later run; in_progress entries are only
// reclaimed once their claim has gone stale.
func (s OutboxStatus) Dispatchable() bool {
	return s == OutboxPending || s == OutboxCapped || s == OutboxBlocked
}

// Notification templates.
const (
	TemplateRegistrationCreated = "registration.created"
	TemplateApproval            = "approval"
	TemplateRejection           = "rejection"
)

// UpdateTemplate returns the update-request template for d.
func UpdateTemplate(d Dimension) string {
	return "update-" + string(d)
}

// OutboxEntry is one notification intent. Entries are never deleted.
type OutboxEntry struct {
	ID        string
	Template  string
	Recipient string
	Payload   json.RawMessage
	Status    OutboxStatus
	Attempts  int
	LastError *string
	ClaimedAt *time.Time
	SentAt    *time.Time
	CreatedAt time.Time
}
