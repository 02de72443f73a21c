package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/aluno-go-api/internal/models"
)

func newRBACApp(role string, allowed ...string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_role", role)
		return c.Next()
	})
	app.Use(RequireRole(allowed...))
	app.Get("/admin", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireRoleAllowsAuthorizedRoles(t *testing.T) {
	app := newRBACApp(models.RoleInstructor, models.RoleAdmin, models.RoleInstructor)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireRoleNormalisesCase(t *testing.T) {
	app := newRBACApp("  Admin ", models.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireRoleRejectsUnauthorizedRoles(t *testing.T) {
	app := newRBACApp(models.RoleStudent, models.RoleAdmin, models.RoleInstructor)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
