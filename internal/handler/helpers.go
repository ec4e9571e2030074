package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/skillbridge-app/skillbridge-api/internal/middleware"
	"github.com/skillbridge-app/skillbridge-api/internal/service"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		switch id := v.(type) {
		case string:
			return strings.TrimSpace(id)
		case uint:
			return strconv.FormatUint(uint64(id), 10)
		case int:
			if id < 0 {
				return ""
			}
			return strconv.Itoa(id)
		case fmt.Stringer:
			return strings.TrimSpace(id.String())
		}
	}
	return ""
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// serviceError maps the shared error taxonomy onto a response. Anything not
// in the taxonomy is treated as an internal failure.
func serviceError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotAuthorized):
		return fiber.StatusForbidden, service.ErrNotAuthorized.Error()
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, service.ErrNotFound.Error()
	case errors.Is(err, service.ErrInvalidTransition):
		return fiber.StatusConflict, service.ErrInvalidTransition.Error()
	case errors.Is(err, service.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	default:
		return fiber.StatusInternalServerError, err.Error()
	}
}
