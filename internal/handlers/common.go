package handlers

import (
	"errors"

	"engram/internal/models"
	"engram/internal/oracle"

	"github.com/gofiber/fiber/v2"
)

// statusForError maps service-layer errors onto HTTP statuses. Validation
// failures carry their message out; everything else gets a generic body so
// internals never leak to clients.
func statusForError(err error) (int, string) {
	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return fiber.StatusBadRequest, validationErr.Error()
	}

	var notFoundErr *models.NotFoundError
	if errors.As(err, &notFoundErr) {
		return fiber.StatusNotFound, notFoundErr.Error()
	}

	var authErr *models.AuthorizationError
	if errors.As(err, &authErr) {
		return fiber.StatusForbidden, authErr.Error()
	}

	var upstreamTimeout *oracle.UpstreamTimeout
	if errors.As(err, &upstreamTimeout) {
		return fiber.StatusGatewayTimeout, "Upstream oracle timed out"
	}

	var upstreamErr *oracle.UpstreamError
	if errors.As(err, &upstreamErr) {
		return fiber.StatusBadGateway, "Upstream oracle unavailable"
	}

	return fiber.StatusInternalServerError, "Internal server error"
}

// errorJSON writes the mapped status and error body for a service error
func errorJSON(c *fiber.Ctx, err error) error {
	status, message := statusForError(err)
	return c.Status(status).JSON(fiber.Map{"error": message})
}
