package handler

import (
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// maxPreviewUpload bounds the multipart preview before it reaches the service.
const maxPreviewUpload = 2 << 20

// DesignHandler stores drawings and records teacher ratings.
type DesignHandler struct {
	service service.DesignService
	logger  zerolog.Logger
}

// NewDesignHandler constructs a design handler.
func NewDesignHandler(service service.DesignService, logger zerolog.Logger) *DesignHandler {
	return &DesignHandler{
		service: service,
		logger:  logger.With().Str("component", "design_handler").Logger(),
	}
}

// RegisterSubmit binds the drawing upload under the submissions group.
func (h *DesignHandler) RegisterSubmit(router fiber.Router) {
	router.Post("/:id/design", middleware.RequireRole(service.RoleStudent), h.submit)
}

// Register binds the artifact routes.
func (h *DesignHandler) Register(router fiber.Router) {
	router.Put("/artifacts/:id/rate", middleware.RequireRole(service.RoleTeacher, service.RoleAdmin), h.rate)
}

// submit accepts either a JSON body or a multipart form with a canvas_data field
// and an optional preview file.
func (h *DesignHandler) submit(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := h.parseSubmit(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	artifact, err := h.service.Submit(middleware.RequestContext(c), actor, id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "design saved", artifact)
}

func (h *DesignHandler) parseSubmit(c *fiber.Ctx) (dto.DesignSubmitRequest, error) {
	var payload dto.DesignSubmitRequest
	if !c.Is("multipart") {
		if err := c.BodyParser(&payload); err != nil {
			return payload, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		return payload, nil
	}

	questionID, err := parseFormUint(c, "question_id")
	if err != nil {
		return payload, err
	}
	payload.QuestionID = questionID
	payload.CanvasData = []byte(c.FormValue("canvas_data"))

	file, err := c.FormFile("preview")
	if err != nil {
		return payload, nil
	}
	if file.Size > maxPreviewUpload {
		return payload, fiber.NewError(fiber.StatusBadRequest, "preview too large")
	}

	opened, err := file.Open()
	if err != nil {
		return payload, fiber.NewError(fiber.StatusBadRequest, "unreadable preview")
	}
	defer opened.Close()

	data := make([]byte, file.Size)
	if _, err := io.ReadFull(opened, data); err != nil {
		return payload, fiber.NewError(fiber.StatusBadRequest, "unreadable preview")
	}
	payload.PreviewPNG = data
	return payload, nil
}

func (h *DesignHandler) rate(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.DesignRateRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	rated, err := h.service.Rate(middleware.RequestContext(c), actor, id, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "design rated", rated)
}

func parseFormUint(c *fiber.Ctx, key string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.FormValue(key)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	return uint(parsed), nil
}
