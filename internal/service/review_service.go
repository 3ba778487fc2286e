package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/config"
	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/events"
	"github.com/spec-kit/registration-service/internal/repository"
	"github.com/spec-kit/registration-service/internal/tokens"
	apperrors "github.com/spec-kit/registration-service/pkg/util/errorutil"
)

// ReviewService runs the multi-dimension review state machine. Every
// operation commits its status change, token and outbox entry together.
type ReviewService struct {
	tx            repository.TxManager
	registrations repository.RegistrationRepository
	outbox        repository.OutboxRepository
	tokens        *tokens.Store
	authz         auth.Authorizer
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	cfg           config.ReviewConfig
	publicBaseURL string
}

// ReviewDependencies bundles collaborators for the review service.
type ReviewDependencies struct {
	TxManager        repository.TxManager
	RegistrationRepo repository.RegistrationRepository
	OutboxRepo       repository.OutboxRepository
	Tokens           *tokens.Store
	Authorizer       auth.Authorizer
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	Config           config.ReviewConfig
	PublicBaseURL    string
}

// RegistrationInput describes the public registration form.
type RegistrationInput struct {
	Email    string
	FullName string
}

// UpdateRequestResult reports a request_update call.
type UpdateRequestResult struct {
	RegistrationID string
	Dimension      domain.Dimension
	TokenID        string
	ExpiresAt      time.Time
}

// MarkPassResult reports a mark_pass call. AllPassed is true only for the call
// that completed the third dimension.
type MarkPassResult struct {
	RegistrationID string
	Dimension      domain.Dimension
	Status         domain.RegistrationStatus
	AllPassed      bool
}

// SubmitUpdateResult reports a consumed update link.
type SubmitUpdateResult struct {
	RegistrationID string
	Dimension      domain.Dimension
	Status         domain.RegistrationStatus
}

// NewReviewService constructs the service.
func NewReviewService(deps ReviewDependencies) *ReviewService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	authz := deps.Authorizer
	if authz == nil {
		authz = auth.NewRoleAuthorizer()
	}
	return &ReviewService{
		tx:            deps.TxManager,
		registrations: deps.RegistrationRepo,
		outbox:        deps.OutboxRepo,
		tokens:        deps.Tokens,
		authz:         authz,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
		cfg:           deps.Config,
		publicBaseURL: strings.TrimRight(deps.PublicBaseURL, "/"),
	}
}

// CreateRegistration stores a new registration waiting for review and queues
// the acknowledgement email.
func (s *ReviewService) CreateRegistration(ctx context.Context, input RegistrationInput) (*domain.Registration, error) {
	email := strings.TrimSpace(input.Email)
	fullName := strings.TrimSpace(input.FullName)
	details := map[string]any{}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		details["email"] = "a valid email address is required"
	}
	if fullName == "" {
		details["full_name"] = "full name is required"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid registration", details)
	}

	reg := &domain.Registration{
		Email:         email,
		FullName:      fullName,
		PaymentStatus: domain.ReviewPending,
		ProfileStatus: domain.ReviewPending,
		TCCStatus:     domain.ReviewPending,
		Status:        domain.StatusWaitingForReview,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.registrations.Create(ctx, reg); err != nil {
			return err
		}
		return s.enqueue(ctx, domain.TemplateRegistrationCreated, reg, map[string]any{})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		Type:           events.EventRegistrationCreated,
		RegistrationID: reg.ID,
		Status:         reg.Status,
	})
	return reg, nil
}

// Get returns a registration by id.
func (s *ReviewService) Get(ctx context.Context, registrationID string) (*domain.Registration, error) {
	if _, err := uuid.Parse(registrationID); err != nil {
		return nil, registrationNotFound(registrationID)
	}
	reg, err := s.registrations.GetByID(ctx, registrationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, registrationNotFound(registrationID)
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return reg, nil
}

// RequestUpdate asks the applicant to resubmit one dimension. It mints a fresh
// token on every call; earlier tokens for the same dimension stay valid.
func (s *ReviewService) RequestUpdate(ctx context.Context, principal *domain.Principal, registrationID, rawDimension, notes string) (*UpdateRequestResult, error) {
	dimension, err := s.authorizeDimension(principal, rawDimension)
	if err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	var (
		result UpdateRequestResult
		reg    *domain.Registration
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reg, err = s.lockRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status.IsTerminal() {
			return terminalError(reg)
		}

		reg.SetDimensionStatus(dimension, domain.ReviewUpdateRequested)
		reg.Status = reg.DeriveStatus()
		if err := s.registrations.Update(ctx, reg); err != nil {
			return err
		}

		plaintext, token, err := s.tokens.Issue(ctx, reg.ID, dimension, s.cfg.UpdateTokenTTL())
		if err != nil {
			return err
		}
		result = UpdateRequestResult{
			RegistrationID: reg.ID,
			Dimension:      dimension,
			TokenID:        token.ID,
			ExpiresAt:      token.ExpiresAt,
		}
		return s.enqueue(ctx, domain.UpdateTemplate(dimension), reg, map[string]any{
			"dimension":  dimension,
			"notes":      notes,
			"update_url": s.updateURL(plaintext),
			"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		Type:           events.EventUpdateRequested,
		RegistrationID: reg.ID,
		Dimension:      dimension,
		Status:         reg.Status,
		Actor:          actorOf(principal),
		Payload: events.UpdateRequestedPayload{
			Notes:     notes,
			TokenID:   result.TokenID,
			ExpiresAt: result.ExpiresAt,
		},
	})
	return &result, nil
}

// MarkPass marks one dimension passed. Passing the last outstanding dimension
// approves the registration and queues the approval email in the same
// transaction.
func (s *ReviewService) MarkPass(ctx context.Context, principal *domain.Principal, registrationID, rawDimension string) (*MarkPassResult, error) {
	dimension, err := s.authorizeDimension(principal, rawDimension)
	if err != nil {
		return nil, err
	}

	var (
		result  MarkPassResult
		changed bool
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reg, err := s.lockRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		result = MarkPassResult{RegistrationID: reg.ID, Dimension: dimension, Status: reg.Status}

		switch reg.Status {
		case domain.StatusApproved:
			return nil
		case domain.StatusRejected:
			return terminalError(reg)
		}

		reg.SetDimensionStatus(dimension, domain.ReviewPassed)
		reg.Status = reg.DeriveStatus()
		if err := s.registrations.Update(ctx, reg); err != nil {
			return err
		}
		changed = true
		result.Status = reg.Status

		if reg.Status != domain.StatusApproved {
			return nil
		}
		result.AllPassed = true
		return s.enqueue(ctx, domain.TemplateApproval, reg, map[string]any{"badge_url": reg.BadgeURL})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if !changed {
		return &result, nil
	}
	s.publish(ctx, events.Event{
		Type:           events.EventDimensionPassed,
		RegistrationID: result.RegistrationID,
		Dimension:      dimension,
		Status:         result.Status,
		Actor:          actorOf(principal),
	})
	if result.AllPassed {
		s.publish(ctx, events.Event{
			Type:           events.EventRegistrationApproved,
			RegistrationID: result.RegistrationID,
			Status:         result.Status,
			Actor:          actorOf(principal),
			Payload:        events.ApprovedPayload{Auto: true},
		})
	}
	return &result, nil
}

// Approve approves a registration explicitly. It requires every dimension to be
// passed unless lenient approval is configured, in which case outstanding
// dimensions are passed as part of the approval.
func (s *ReviewService) Approve(ctx context.Context, principal *domain.Principal, registrationID string, badgeURL *string) (*domain.Registration, error) {
	if !s.authz.CanDecide(principal) {
		return nil, apperrors.NewForbidden("approval requires super_admin")
	}
	if badgeURL != nil {
		trimmed := strings.TrimSpace(*badgeURL)
		if trimmed == "" {
			badgeURL = nil
		} else if u, err := url.ParseRequestURI(trimmed); err != nil || u.Host == "" {
			return nil, apperrors.NewValidationError("invalid badge URL", map[string]any{"badgeUrl": trimmed})
		} else {
			badgeURL = &trimmed
		}
	}

	var (
		reg     *domain.Registration
		changed bool
		forced  []domain.Dimension
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		reg, err = s.lockRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		switch reg.Status {
		case domain.StatusApproved:
			return nil
		case domain.StatusRejected:
			return terminalError(reg)
		}

		outstanding := outstandingDimensions(reg)
		if len(outstanding) > 0 {
			if !s.cfg.LenientApproval {
				return apperrors.NewInvalidState("all dimensions must be passed before approval",
					map[string]any{"outstanding": outstanding})
			}
			for _, d := range outstanding {
				reg.SetDimensionStatus(d, domain.ReviewPassed)
			}
			forced = outstanding
		}

		reg.Status = domain.StatusApproved
		if badgeURL != nil {
			reg.BadgeURL = badgeURL
		}
		if err := s.registrations.Update(ctx, reg); err != nil {
			return err
		}
		changed = true
		return s.enqueue(ctx, domain.TemplateApproval, reg, map[string]any{"badge_url": reg.BadgeURL})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if len(forced) > 0 {
		s.logger.Warn("lenient approval passed outstanding dimensions",
			zap.String("registration_id", reg.ID),
			zap.Any("dimensions", forced))
	}
	if changed {
		s.publish(ctx, events.Event{
			Type:           events.EventRegistrationApproved,
			RegistrationID: reg.ID,
			Status:         reg.Status,
			Actor:          actorOf(principal),
			Payload:        events.ApprovedPayload{Lenient: len(forced) > 0, BadgeURL: reg.BadgeURL},
		})
	}
	return reg, nil
}

// Reject closes a registration. Rejecting twice is a no-op; an approved
// registration cannot be rejected.
func (s *ReviewService) Reject(ctx context.Context, principal *domain.Principal, registrationID, reason string) (*domain.Registration, error) {
	if !s.authz.CanDecide(principal) {
		return nil, apperrors.NewForbidden("rejection requires super_admin")
	}
	reason = strings.TrimSpace(reason)

	var (
		reg     *domain.Registration
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		reg, err = s.lockRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		switch reg.Status {
		case domain.StatusRejected:
			return nil
		case domain.StatusApproved:
			return terminalError(reg)
		}

		reg.Status = domain.StatusRejected
		if err := s.registrations.Update(ctx, reg); err != nil {
			return err
		}
		changed = true
		return s.enqueue(ctx, domain.TemplateRejection, reg, map[string]any{"reason": reason})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if changed {
		s.publish(ctx, events.Event{
			Type:           events.EventRegistrationRejected,
			RegistrationID: reg.ID,
			Status:         reg.Status,
			Actor:          actorOf(principal),
			Payload:        events.RejectedPayload{Reason: reason},
		})
	}
	return reg, nil
}

// ValidateUpdateToken checks an update link without consuming it.
func (s *ReviewService) ValidateUpdateToken(ctx context.Context, plaintext string) (*domain.UpdateToken, error) {
	token, err := s.tokens.Validate(ctx, plaintext)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return token, nil
}

// SubmitUpdate consumes an update link and returns its dimension to pending.
// The token is only spent if the registration change commits.
func (s *ReviewService) SubmitUpdate(ctx context.Context, plaintext string) (*SubmitUpdateResult, error) {
	var result SubmitUpdateResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		token, err := s.tokens.Consume(ctx, plaintext)
		if err != nil {
			return mapTokenError(err)
		}
		reg, err := s.lockRegistration(ctx, token.RegistrationID)
		if err != nil {
			return err
		}
		if reg.Status.IsTerminal() {
			return apperrors.NewTokenInvalid(fmt.Errorf("registration %s is %s", reg.ID, reg.Status))
		}

		if reg.DimensionStatus(token.Dimension) == domain.ReviewUpdateRequested {
			reg.SetDimensionStatus(token.Dimension, domain.ReviewPending)
		}
		reg.Status = reg.DeriveStatus()
		if err := s.registrations.Update(ctx, reg); err != nil {
			return err
		}
		result = SubmitUpdateResult{RegistrationID: reg.ID, Dimension: token.Dimension, Status: reg.Status}
		return nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeTokenInvalid) {
			s.logger.Info("update submission rejected", zap.Error(err))
		}
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		Type:           events.EventUpdateSubmitted,
		RegistrationID: result.RegistrationID,
		Dimension:      result.Dimension,
		Status:         result.Status,
	})
	return &result, nil
}

func (s *ReviewService) authorizeDimension(principal *domain.Principal, raw string) (domain.Dimension, error) {
	dimension, ok := domain.ParseDimension(raw)
	if !ok {
		return "", apperrors.NewInvalidDimension(raw)
	}
	if !s.authz.CanReview(principal, dimension) {
		return "", apperrors.NewForbidden("not authorized for dimension " + string(dimension))
	}
	return dimension, nil
}

func (s *ReviewService) lockRegistration(ctx context.Context, id string) (*domain.Registration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, registrationNotFound(id)
	}
	reg, err := s.registrations.GetForUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, registrationNotFound(id)
	}
	return reg, err
}

func (s *ReviewService) enqueue(ctx context.Context, template string, reg *domain.Registration, payload map[string]any) error {
	payload["registration_id"] = reg.ID
	payload["full_name"] = reg.FullName
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", template, err)
	}
	return s.outbox.Append(ctx, &domain.OutboxEntry{
		Template:  template,
		Recipient: reg.Email,
		Payload:   raw,
	})
}

func (s *ReviewService) updateURL(plaintext string) string {
	return s.publicBaseURL + "/update?token=" + url.QueryEscape(plaintext)
}

func (s *ReviewService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func outstandingDimensions(reg *domain.Registration) []domain.Dimension {
	var out []domain.Dimension
	for _, d := range domain.Dimensions {
		if reg.DimensionStatus(d) != domain.ReviewPassed {
			out = append(out, d)
		}
	}
	return out
}

func mapTokenError(err error) error {
	if errors.Is(err, tokens.ErrInvalid) {
		return apperrors.NewTokenInvalid(err)
	}
	return err
}

func terminalError(reg *domain.Registration) error {
	return apperrors.NewInvalidState(
		fmt.Sprintf("registration is already %s", reg.Status),
		map[string]any{"status": reg.Status})
}

func registrationNotFound(id string) error {
	return apperrors.NewNotFound("registration", map[string]any{"id": id})
}

func actorOf(principal *domain.Principal) events.Actor {
	if principal == nil {
		return events.Actor{}
	}
	return events.Actor{SubjectID: principal.SubjectID, Email: principal.Email}
}
