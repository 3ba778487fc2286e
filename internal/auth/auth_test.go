package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/registration-service/internal/auth"
	"github.com/spec-kit/registration-service/internal/domain"
	apperrors "github.com/spec-kit/registration-service/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := auth.NewTokenManager("secret", 5)
	token, expiresAt, err := tm.GenerateToken(domain.Principal{
		SubjectID: "admin-1",
		Email:     "admin@example.com",
		Roles:     []domain.AdminRole{domain.RolePaymentAdmin},
	})
	require.NoError(t, err)
	assert.False(t, expiresAt.IsZero())

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	principal := claims.Principal()
	assert.Equal(t, "admin-1", principal.SubjectID)
	assert.True(t, principal.HasRole(domain.RolePaymentAdmin))
	assert.False(t, principal.HasRole(domain.RoleSuperAdmin))
}

func TestTokenWrongSecret(t *testing.T) {
	token, _, err := auth.NewTokenManager("secret", 5).GenerateToken(domain.Principal{SubjectID: "x"})
	require.NoError(t, err)

	_, err = auth.NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestRoleAuthorizer(t *testing.T) {
	authz := auth.NewRoleAuthorizer()
	super := &domain.Principal{Roles: []domain.AdminRole{domain.RoleSuperAdmin}}
	payment := &domain.Principal{Roles: []domain.AdminRole{domain.RolePaymentAdmin}}

	for _, d := range domain.Dimensions {
		assert.True(t, authz.CanReview(super, d), d)
	}
	assert.True(t, authz.CanReview(payment, domain.DimensionPayment))
	assert.False(t, authz.CanReview(payment, domain.DimensionProfile))
	assert.False(t, authz.CanReview(nil, domain.DimensionPayment))

	assert.True(t, authz.CanDecide(super))
	assert.False(t, authz.CanDecide(payment))
}

func TestMiddlewareRequiresAdmin(t *testing.T) {
	tm := auth.NewTokenManager("secret", 5)
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	app.Get("/private", auth.NewAuthMiddleware(tm).Handle, auth.RequireAdmin(), func(c *fiber.Ctx) error {
		principal, _ := auth.PrincipalFromContext(c)
		return c.SendString(principal.SubjectID)
	})

	withRole, _, _ := tm.GenerateToken(domain.Principal{SubjectID: "a1", Roles: []domain.AdminRole{domain.RoleTCCAdmin}})
	noRole, _, _ := tm.GenerateToken(domain.Principal{SubjectID: "a2"})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"no admin role", "Bearer " + noRole, http.StatusForbidden},
		{"admin", "Bearer " + withRole, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
