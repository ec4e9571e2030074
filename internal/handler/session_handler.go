package handler

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/service"
	"github.com/skillbridge-app/skillbridge-api/internal/utils"
)

// SessionHandler exposes the mentorship session scheduling endpoints.
type SessionHandler struct {
	service   service.SessionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSessionHandler creates a session handler instance.
func NewSessionHandler(service service.SessionService, validator *validator.Validate, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register binds the session routes under the provided router group.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Post("/", h.propose)
	router.Get("/", h.list)
	router.Post("/:id/accept", h.transition("accepted", h.service.Accept))
	router.Post("/:id/decline", h.transition("declined", h.service.Decline))
	router.Post("/:id/cancel", h.transition("cancelled", h.service.Cancel))
	router.Post("/:id/reschedule", h.reschedule)
}

func (h *SessionHandler) propose(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.SessionProposeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	session, err := h.service.Propose(requestContext(c), userID, payload)
	if err != nil {
		status, msg := serviceError(err)
		requestLogger(h.logger, c).Warn().Err(err).Msg("session proposal rejected")
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "session proposed", session)
}

func (h *SessionHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	matchID, err := parseQueryInt(c, "match_id")
	if err != nil || matchID <= 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "match_id required")
	}

	sessions, err := h.service.ListByMatch(requestContext(c), uint(matchID), userID)
	if err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "sessions", sessions)
}

// transition builds a handler for the accept/decline/cancel operations, which
// differ only in the service method they invoke.
func (h *SessionHandler) transition(verb string, op func(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := userIDFromContext(c)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
		}

		sessionID, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid session id")
		}

		session, err := op(requestContext(c), uint(sessionID), userID)
		if err != nil {
			status, msg := serviceError(err)
			requestLogger(h.logger, c).Warn().Err(err).Str("verb", verb).Msg("session transition rejected")
			return utils.SendError(c, status, msg)
		}

		return utils.SendSuccess(c, "session "+verb, session)
	}
}

func (h *SessionHandler) reschedule(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	sessionID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid session id")
	}

	var payload dto.SessionRescheduleRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	session, err := h.service.Reschedule(requestContext(c), uint(sessionID), userID, payload)
	if err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "session rescheduled", session)
}
