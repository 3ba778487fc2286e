package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/registration-service/internal/domain"
	apperrors "github.com/spec-kit/registration-service/pkg/util/errorutil"
)

// Authorizer is the RBAC gate consulted by review operations.
type Authorizer interface {
	// CanReview reports whether principal may act on dimension d.
	CanReview(principal *domain.Principal, d domain.Dimension) bool
	// CanDecide reports whether principal may approve or reject.
	CanDecide(principal *domain.Principal) bool
}

// RoleAuthorizer grants dimension roles their own dimension and super admins
// everything.
type RoleAuthorizer struct{}

// NewRoleAuthorizer returns the default authorizer.
func NewRoleAuthorizer() RoleAuthorizer {
	return RoleAuthorizer{}
}

func (RoleAuthorizer) CanReview(principal *domain.Principal, d domain.Dimension) bool {
	return principal.HasRole(domain.RoleSuperAdmin) || principal.HasRole(domain.DimensionRole(d))
}

func (RoleAuthorizer) CanDecide(principal *domain.Principal) bool {
	return principal.HasRole(domain.RoleSuperAdmin)
}

// RequireAdmin ensures the caller carries at least one admin role.
func RequireAdmin() fiber.Handler {
	admin := map[domain.AdminRole]struct{}{
		domain.RoleSuperAdmin:   {},
		domain.RolePaymentAdmin: {},
		domain.RoleProfileAdmin: {},
		domain.RoleTCCAdmin:     {},
	}
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, role := range principal.Roles {
			if _, exists := admin[role]; exists {
				return c.Next()
			}
		}
		return apperrors.NewForbidden("admin role required")
	}
}
