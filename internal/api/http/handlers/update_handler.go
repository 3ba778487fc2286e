package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/registration-service/internal/api/dto"
	"github.com/spec-kit/registration-service/internal/service"
)

// UpdateHandler serves the applicant's deep link.
type UpdateHandler struct {
	review *service.ReviewService
}

// NewUpdateHandler constructs handler.
func NewUpdateHandler(review *service.ReviewService) *UpdateHandler {
	return &UpdateHandler{review: review}
}

// Validate handles GET /update?token=.
func (h *UpdateHandler) Validate(c *fiber.Ctx) error {
	token, err := h.review.ValidateUpdateToken(c.UserContext(), c.Query("token"))
	if err != nil {
		return err
	}
	return c.JSON(dto.UpdateLinkResponse{OK: true, Valid: true, Dimension: string(token.Dimension)})
}

// Submit handles POST /update.
func (h *UpdateHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitUpdateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	result, err := h.review.SubmitUpdate(c.UserContext(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(dto.SubmitUpdateResponse{
		OK:        true,
		Dimension: string(result.Dimension),
		Status:    string(result.Status),
	})
}
