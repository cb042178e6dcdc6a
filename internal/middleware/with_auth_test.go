package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/middleware"
)

func authApp(userID interface{}, role string, opts middleware.AuthOptions) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != nil {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}, opts))
	return app
}

func TestWithAuthStudentRole(t *testing.T) {
	resp := perform(t, authApp(uint(10), "Student", middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = perform(t, authApp(uint(10), "professor", middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestWithAuthProfessorRouteAdmitsAdminAndTeacher(t *testing.T) {
	for _, role := range []string{"professor", "admin", "teacher"} {
		resp := perform(t, authApp(uint(1), role, middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
		require.Equal(t, fiber.StatusNoContent, resp.StatusCode, role)
	}

	resp := perform(t, authApp(uint(1), "student", middleware.AuthOptions{Role: middleware.AuthRoleProfessor}))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestWithAuthAdminOnly(t *testing.T) {
	resp := perform(t, authApp(uint(1), "professor", middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = perform(t, authApp(uint(1), "admin", middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestWithAuthAnyRequiresUserWhenAsked(t *testing.T) {
	resp := perform(t, authApp(nil, "", middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = perform(t, authApp(nil, "", middleware.AuthOptions{Role: middleware.AuthRoleAny}))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}
