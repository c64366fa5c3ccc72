package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// SubmissionHandler exposes the assessment attempt lifecycle.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	studentOnly := middleware.RequireRole(service.RoleStudent)
	staffOnly := middleware.RequireRole(service.RoleTeacher, service.RoleAdmin)

	router.Post("/start", studentOnly, h.start)
	router.Get("/:id", h.get)
	router.Post("/:id/answers", studentOnly, h.recordAnswer)
	router.Post("/:id/finalize", studentOnly, h.finalize)
	router.Put("/:id/grade", staffOnly, h.grade)
}

func (h *SubmissionHandler) start(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var payload dto.StartSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	started, err := h.service.StartOrGet(middleware.RequestContext(c), actor, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	if started.AlreadyExisted {
		return utils.SendSuccess(c, "submission resumed", started)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission started", started)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(middleware.RequestContext(c), actor, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) recordAnswer(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RecordAnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	result, err := h.service.RecordAnswer(middleware.RequestContext(c), actor, id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "answer recorded", result)
}

func (h *SubmissionHandler) finalize(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Finalize(middleware.RequestContext(c), actor, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", result.Submission.ID).
		Str("status", string(result.Submission.Status)).
		Int("xp_earned", result.XPEarned).
		Msg("submission finalized")

	return utils.SendSuccess(c, "submission finalized", result)
}

func (h *SubmissionHandler) grade(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	submission, err := h.service.Grade(middleware.RequestContext(c), actor, id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}
