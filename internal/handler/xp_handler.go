package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// XPHandler exposes balances, ledger history, the leaderboard and manual credits.
type XPHandler struct {
	ledger      service.XPLedgerService
	leaderboard service.LeaderboardService
	logger      zerolog.Logger
}

// NewXPHandler constructs an XP handler.
func NewXPHandler(ledger service.XPLedgerService, leaderboard service.LeaderboardService, logger zerolog.Logger) *XPHandler {
	return &XPHandler{
		ledger:      ledger,
		leaderboard: leaderboard,
		logger:      logger.With().Str("component", "xp_handler").Logger(),
	}
}

// Register binds the XP routes.
func (h *XPHandler) Register(router fiber.Router) {
	router.Get("/me", h.me)
	router.Get("/history", h.history)
	router.Get("/leaderboard", h.top)
	router.Post("/credits", middleware.RequireRole(service.RoleTeacher, service.RoleAdmin), h.credit)
}

func (h *XPHandler) me(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	balance, err := h.ledger.Balance(middleware.RequestContext(c), actor.ID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "xp balance", balance)
}

// history lists the caller's ledger. Staff may pass student_id to read another student's.
func (h *XPHandler) history(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	studentID := actor.ID
	if raw := c.Query("student_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid student_id")
		}
		if uint(parsed) != actor.ID && !actor.IsStaff() {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		studentID = uint(parsed)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	entries, err := h.ledger.History(middleware.RequestContext(c), studentID, limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "xp history", entries)
}

func (h *XPHandler) top(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	var classID uint
	if raw := c.Query("class_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid class_id")
		}
		classID = uint(parsed)
	}

	entries, err := h.leaderboard.TopInClass(middleware.RequestContext(c), classID, limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "leaderboard", entries)
}

func (h *XPHandler) credit(c *fiber.Ctx) error {
	var payload dto.XPCreditRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	balance, err := h.ledger.Credit(middleware.RequestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("student_id", payload.StudentID).
		Int("amount", payload.Amount).
		Str("source_kind", string(payload.SourceKind)).
		Uint("credited_by", userIDFromContext(c)).
		Msg("manual xp credit")

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "xp credited", balance)
}
