package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// CodeHandler accepts code answers and reports their evaluation.
type CodeHandler struct {
	service service.CodeEvaluationService
	logger  zerolog.Logger
}

// NewCodeHandler constructs a code handler.
func NewCodeHandler(service service.CodeEvaluationService, logger zerolog.Logger) *CodeHandler {
	return &CodeHandler{
		service: service,
		logger:  logger.With().Str("component", "code_handler").Logger(),
	}
}

// RegisterSubmit binds the submit route under the submissions group. limiter may be nil.
func (h *CodeHandler) RegisterSubmit(router fiber.Router, limiter fiber.Handler) {
	handlers := []fiber.Handler{middleware.RequireRole(service.RoleStudent)}
	if limiter != nil {
		handlers = append(handlers, limiter)
	}
	handlers = append(handlers, h.submit)
	router.Post("/:id/code", handlers...)
}

// Register binds the artifact routes and the staff editor runner.
func (h *CodeHandler) Register(router fiber.Router) {
	router.Get("/artifacts/:id", h.result)
	router.Post("/execute", middleware.RequireRole(service.RoleTeacher, service.RoleAdmin), h.execute)
}

func (h *CodeHandler) submit(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.CodeSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	queued, err := h.service.Submit(middleware.RequestContext(c), actor, id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "code queued for evaluation", queued)
}

func (h *CodeHandler) result(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Result(middleware.RequestContext(c), actor, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "code result", result)
}

func (h *CodeHandler) execute(c *fiber.Ctx) error {
	var payload dto.CodeExecuteRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	result, err := h.service.Execute(middleware.RequestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "code executed", result)
}
