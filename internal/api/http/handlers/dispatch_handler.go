package handlers

import (
	"context"
	"crypto/subtle"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/dispatch"
	apperrors "github.com/spec-kit/registration-service/pkg/util/errorutil"
)

// DispatchRunner runs one outbox batch.
type DispatchRunner interface {
	Run(ctx context.Context, cfg dispatch.Config) (*dispatch.Report, error)
}

// DispatchHandler triggers dispatch runs from an external scheduler.
type DispatchHandler struct {
	runner  DispatchRunner
	cfg     dispatch.Config
	secret  []byte
	timeout time.Duration
}

// NewDispatchHandler constructs handler. An empty secret disables the endpoint.
func NewDispatchHandler(runner DispatchRunner, cfg dispatch.Config, secret string, timeout time.Duration) *DispatchHandler {
	return &DispatchHandler{runner: runner, cfg: cfg, secret: []byte(secret), timeout: timeout}
}

// Run handles GET /dispatch-emails. dry_run=true forces DRY_RUN regardless of
// the configured mode; it can never escalate a dry configuration to real sends.
func (h *DispatchHandler) Run(c *fiber.Ctx) error {
	if len(h.secret) == 0 {
		return apperrors.NewUnauthorized("dispatch endpoint disabled")
	}
	token, ok := auth.BearerToken(c)
	if !ok || subtle.ConstantTimeCompare([]byte(token), h.secret) != 1 {
		return apperrors.NewUnauthorized("invalid dispatch secret")
	}

	cfg := h.cfg
	if raw := c.Query("dry_run"); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.NewValidationError("dry_run must be a boolean", map[string]any{"dry_run": raw})
		}
		if dryRun {
			cfg.Mode = dispatch.ModeDryRun
		}
	}

	// a run outlives the request timeout; it is bounded by its own timeout
	ctx := context.WithoutCancel(c.UserContext())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.runner.Run(ctx, cfg)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(report)
}
