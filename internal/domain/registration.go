package domain

import (
	"strings"
	"time"
)

// Dimension names one independently reviewed part of a registration.
type Dimension string

const (
	DimensionPayment Dimension = "payment"
	DimensionProfile Dimension = "profile"
	DimensionTCC     Dimension = "tcc"
)

// Dimensions lists every review dimension in a stable order.
var Dimensions = []Dimension{DimensionPayment, DimensionProfile, DimensionTCC}

// ParseDimension normalizes raw input and reports whether it names a known dimension.
func ParseDimension(raw string) (Dimension, bool) {
	d := Dimension(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DimensionPayment, DimensionProfile, DimensionTCC:
		return d, true
	default:
		return "", false
	}
}

// ReviewStatus is the per-dimension review state.
type ReviewStatus string

const (
	ReviewPending         ReviewStatus = "pending"
	ReviewUpdateRequested ReviewStatus = "update_requested"
	ReviewPassed          ReviewStatus = "passed"
)

// RegistrationStatus is the overall lifecycle state.
type RegistrationStatus string

const (
	StatusWaitingForReview RegistrationStatus = "waiting_for_review"
	StatusWaitingForUpdate RegistrationStatus = "waiting_for_update"
	StatusApproved         RegistrationStatus = "approved"
	StatusRejected         RegistrationStatus = "rejected"
)

// IsTerminal reports whether no further dimension transitions are allowed.
func (s RegistrationStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Registration is the aggregate reviewed by admins.
type Registration struct {
	ID            string
	Email         string
	FullName      string
	PaymentStatus ReviewStatus
	ProfileStatus ReviewStatus
	TCCStatus     ReviewStatus
	Status        RegistrationStatus
	BadgeURL      *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DimensionStatus returns the review status of d.
func (r *Registration) DimensionStatus(d Dimension) ReviewStatus {
	switch d {
	case DimensionPayment:
		return r.PaymentStatus
	case DimensionProfile:
		return r.ProfileStatus
	case DimensionTCC:
		return r.TCCStatus
	}
	return ""
}

// SetDimensionStatus updates the review status of d.
func (r *Registration) SetDimensionStatus(d Dimension, status ReviewStatus) {
	switch d {
	case DimensionPayment:
		r.PaymentStatus = status
	case DimensionProfile:
		r.ProfileStatus = status
	case DimensionTCC:
		r.TCCStatus = status
	}
}

// AllPassed reports whether every dimension is passed.
func (r *Registration) AllPassed() bool {
	for _, d := range Dimensions {
		if r.DimensionStatus(d) != ReviewPassed {
			return false
		}
	}
	return true
}

// DeriveStatus computes the overall status from the dimension statuses for a
// registration that is not terminal.
func (r *Registration) DeriveStatus() RegistrationStatus {
	if r.AllPassed() {
		return StatusApproved
	}
	for _, d := range Dimensions {
		if r.DimensionStatus(d) == ReviewUpdateRequested {
			return StatusWaitingForUpdate
		}
	}
	return StatusWaitingForReview
}
