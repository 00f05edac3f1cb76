package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/ampline-certsvc/internal/services"
	"github.com/localnerve/ampline-certsvc/internal/types"
)

// AuthAdmin validates that the request has admin role authorization.
// Voiding certificates and recording review decisions are admin actions.
func AuthAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, []string{"admin"}, "certificates.authorization.admin")
	}
}

// AuthEngineer validates that the request has engineer role authorization
func AuthEngineer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, []string{"engineer"}, "certificates.authorization.engineer")
	}
}

// authorize performs the authorization check
func authorize(c *fiber.Ctx, roles []string, errorType string) error {
	// Get session cookie
	session := c.Cookies("cookie_session")
	if session == "" {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: "Authorizer cookie \"cookie_session\" not found",
			Type:    errorType,
		}
	}

	// Validate session
	data, err := services.ValidateSession(session, roles)
	if err != nil {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: fmt.Sprintf("Invalid session: %v", err),
			Type:    errorType,
		}
	}

	// Set user data in context
	if user, ok := data["user"]; ok {
		c.Locals("user", user)
	}

	return c.Next()
}
