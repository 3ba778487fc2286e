package events

import (
	"time"

	"github.com/spec-kit/registration-service/internal/domain"
)

// EventType enumerates review lifecycle events.
type EventType string

const (
	EventRegistrationCreated  EventType = "registration_created"
	EventUpdateRequested      EventType = "update_requested"
	EventDimensionPassed      EventType = "dimension_passed"
	EventRegistrationApproved EventType = "registration_approved"
	EventRegistrationRejected EventType = "registration_rejected"
	EventUpdateSubmitted      EventType = "update_submitted"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	EventRegistrationCreated,
	EventUpdateRequested,
	EventDimensionPassed,
	EventRegistrationApproved,
	EventRegistrationRejected,
	EventUpdateSubmitted,
}

// Actor identifies who caused an event. Applicant-driven events have no
// subject.
type Actor struct {
	SubjectID string `json:"subject_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Event is published after the transaction that caused it commits.
type Event struct {
	ID             string                    `json:"id"`
	Type           EventType                 `json:"type"`
	RegistrationID string                    `json:"registration_id"`
	Dimension      domain.Dimension          `json:"dimension,omitempty"`
	Status         domain.RegistrationStatus `json:"status"`
	Actor          Actor                     `json:"actor"`
	Timestamp      time.Time                 `json:"timestamp"`
	Payload        interface{}               `json:"payload,omitempty"`
}

// UpdateRequestedPayload payload.
type UpdateRequestedPayload struct {
	Notes     string    `json:"notes,omitempty"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ApprovedPayload payload.
type ApprovedPayload struct {
	Auto     bool    `json:"auto"`
	Lenient  bool    `json:"lenient,omitempty"`
	BadgeURL *string `json:"badge_url,omitempty"`
}

// RejectedPayload payload.
type RejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}
