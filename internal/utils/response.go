package utils

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a standard success response
func SuccessResponse(c *fiber.Ctx, data interface{}, status int) error {
	return c.Status(status).JSON(data)
}

// ErrorResponse sends a standard error response
func ErrorResponse(c *fiber.Ctx, message string, status int, errorType string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      errorType,
	})
}

// RevisionErrorResponse sends a revision conflict error (409)
func RevisionErrorResponse(c *fiber.Ctx) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"status":        fiber.StatusConflict,
		"message":       "E_REVISION - Refresh and reconcile with current revision and retry.",
		"ok":            false,
		"revisionError": true,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"url":           c.OriginalURL(),
		"type":          "revision",
	})
}

// NotReadyResponse sends a completion-readiness failure (422) carrying the
// exact missing field paths so the editor can highlight them.
func NotReadyResponse(c *fiber.Ctx, missing []string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"status":    fiber.StatusUnprocessableEntity,
		"message":   "E_NOT_READY - Certificate is missing required fields.",
		"ok":        false,
		"missing":   missing,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      "readiness",
	})
}

// NotFoundResponse sends a 404 not found response
func NotFoundResponse(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"status":    fiber.StatusNotFound,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}

// ErrorResponseStruct defines the schema for error responses
type ErrorResponseStruct struct {
	Status        int      `json:"status"`
	Message       string   `json:"message"`
	Ok            bool     `json:"ok"`
	Timestamp     string   `json:"timestamp"`
	URL           string   `json:"url"`
	Type          string   `json:"type,omitempty"`
	RevisionError bool     `json:"revisionError,omitempty"`
	Missing       []string `json:"missing,omitempty"`
}
