package dto

import (
	"time"

	"github.com/spec-kit/registration-service/internal/domain"
)

// CreateRegistrationRequest payload for the public registration form.
type CreateRegistrationRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// RequestUpdateRequest payload for POST /registrations/:id/request-update.
type RequestUpdateRequest struct {
	Dimension string `json:"dimension"`
	Notes     string `json:"notes"`
}

// MarkPassRequest payload for POST /registrations/:id/mark-pass.
type MarkPassRequest struct {
	Dimension string `json:"dimension"`
}

// ApproveRequest payload for POST /registrations/:id/approve.
type ApproveRequest struct {
	BadgeURL *string `json:"badgeUrl"`
}

// RejectRequest payload for POST /registrations/:id/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// SubmitUpdateRequest payload for POST /update.
type SubmitUpdateRequest struct {
	Token string `json:"token"`
}

// RegistrationResponse is the admin view of a registration.
type RegistrationResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	PaymentStatus string    `json:"paymentStatus"`
	ProfileStatus string    `json:"profileStatus"`
	TCCStatus     string    `json:"tccStatus"`
	Status        string    `json:"status"`
	BadgeURL      *string   `json:"badgeUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewRegistrationResponse maps the domain model.
func NewRegistrationResponse(reg *domain.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:            reg.ID,
		Email:         reg.Email,
		FullName:      reg.FullName,
		PaymentStatus: string(reg.PaymentStatus),
		ProfileStatus: string(reg.ProfileStatus),
		TCCStatus:     string(reg.TCCStatus),
		Status:        string(reg.Status),
		BadgeURL:      reg.BadgeURL,
		CreatedAt:     reg.CreatedAt,
		UpdatedAt:     reg.UpdatedAt,
	}
}

// RequestUpdateResponse answers a successful update request.
type RequestUpdateResponse struct {
	OK        bool      `json:"ok"`
	ID        string    `json:"id"`
	Dimension string    `json:"dimension"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MarkPassResponse answers a successful mark-pass.
type MarkPassResponse struct {
	OK        bool   `json:"ok"`
	ID        string `json:"id"`
	Dimension string `json:"dimension"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	AllPassed bool   `json:"all_passed"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// UpdateLinkResponse answers GET /update.
type UpdateLinkResponse struct {
	OK        bool   `json:"ok"`
	Valid     bool   `json:"valid"`
	Dimension string `json:"dimension"`
}

// SubmitUpdateResponse answers POST /update.
type SubmitUpdateResponse struct {
	OK        bool   `json:"ok"`
	Dimension string `json:"dimension"`
	Status    string `json:"status"`
}
