package handlers

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/registration-service/pkg/util/errorutil"
)

// parseBody decodes an optional body. An empty body leaves out untouched so
// field validation reports what is missing.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"reason": err.Error()})
	}
	return nil
}
