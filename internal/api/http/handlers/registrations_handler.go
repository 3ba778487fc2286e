package handlers

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/registration-service/internal/api/dto"
	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/service"
)

// RegistrationsHandler exposes the public form and the admin review actions.
type RegistrationsHandler struct {
	review *service.ReviewService
}

// NewRegistrationsHandler constructs handler.
func NewRegistrationsHandler(review *service.ReviewService) *RegistrationsHandler {
	return &RegistrationsHandler{review: review}
}

// Create handles POST /registrations.
func (h *RegistrationsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateRegistrationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	reg, err := h.review.CreateRegistration(c.UserContext(), service.RegistrationInput{
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"ok": true, "id": reg.ID})
}

// Get handles GET /registrations/:id.
func (h *RegistrationsHandler) Get(c *fiber.Ctx) error {
	reg, err := h.review.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "registration": dto.NewRegistrationResponse(reg)})
}

// RequestUpdate handles POST /registrations/:id/request-update.
func (h *RegistrationsHandler) RequestUpdate(c *fiber.Ctx) error {
	var req dto.RequestUpdateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	principal, _ := auth.PrincipalFromContext(c)

	result, err := h.review.RequestUpdate(c.UserContext(), principal, c.Params("id"), req.Dimension, req.Notes)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.RequestUpdateResponse{
		OK:        true,
		ID:        result.RegistrationID,
		Dimension: string(result.Dimension),
		ExpiresAt: result.ExpiresAt,
	})
}

// MarkPass handles POST /registrations/:id/mark-pass.
func (h *RegistrationsHandler) MarkPass(c *fiber.Ctx) error {
	var req dto.MarkPassRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	principal, _ := auth.PrincipalFromContext(c)

	result, err := h.review.MarkPass(c.UserContext(), principal, c.Params("id"), req.Dimension)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("%s marked as passed", result.Dimension)
	if result.AllPassed {
		message = "all dimensions passed; registration approved"
	}
	return c.JSON(dto.MarkPassResponse{
		OK:        true,
		ID:        result.RegistrationID,
		Dimension: string(result.Dimension),
		Status:    string(result.Status),
		Message:   message,
		AllPassed: result.AllPassed,
	})
}

// Approve handles POST /registrations/:id/approve.
func (h *RegistrationsHandler) Approve(c *fiber.Ctx) error {
	var req dto.ApproveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	principal, _ := auth.PrincipalFromContext(c)

	if _, err := h.review.Approve(c.UserContext(), principal, c.Params("id"), req.BadgeURL); err != nil {
		return err
	}
	return c.JSON(dto.MessageResponse{OK: true, Message: "registration approved"})
}

// Reject handles POST /registrations/:id/reject.
func (h *RegistrationsHandler) Reject(c *fiber.Ctx) error {
	var req dto.RejectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	principal, _ := auth.PrincipalFromContext(c)

	if _, err := h.review.Reject(c.UserContext(), principal, c.Params("id"), req.Reason); err != nil {
		return err
	}
	return c.JSON(dto.MessageResponse{OK: true, Message: "registration rejected"})
}
