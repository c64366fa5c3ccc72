package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// RealtimeHandler upgrades authenticated clients to websocket sessions.
type RealtimeHandler struct {
	dispatcher service.NotificationDispatcher
	secret     string
	logger     zerolog.Logger
}

// NewRealtimeHandler constructs the websocket endpoint. secret verifies the query token.
func NewRealtimeHandler(dispatcher service.NotificationDispatcher, secret string, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		dispatcher: dispatcher,
		secret:     secret,
		logger:     logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds the websocket route. Browsers cannot set headers on the upgrade,
// so the token travels as ?token= with the Authorization header as a fallback.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", h.authenticate)
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *RealtimeHandler) authenticate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		authorization := c.Get(fiber.HeaderAuthorization)
		if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
			token = authorization[7:]
		}
	}

	identity, err := middleware.ParseToken(h.secret, token)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
	}

	c.Locals(middleware.LocalUserID, identity.UserID)
	c.Locals(middleware.LocalUserRole, identity.Role)
	return c.Next()
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals(middleware.LocalUserID).(uint)
	if userID == 0 {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation, _ := conn.Locals("correlation_id").(string)
	logger := h.logger.With().Uint("user_id", userID).Str("correlation_id", correlation).Logger()

	logger.Info().Msg("realtime websocket connected")
	h.dispatcher.ServeConnection(conn, userID)
	logger.Info().Msg("realtime websocket disconnected")
}
