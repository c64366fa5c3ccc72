package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// NotificationService persists notifications and pushes them to live sessions.
type NotificationService interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID uint, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id, userID uint) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID uint) (dto.NotificationReadAllResponse, error)
	Announce(ctx context.Context, senderID uint, payload dto.AnnouncementRequest) (dto.AnnouncementPayload, error)
}

type notificationService struct {
	repo       repository.NotificationRepository
	dispatcher NotificationDispatcher
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewNotificationService constructs a notification service. dispatcher may be nil.
func NewNotificationService(repo repository.NotificationRepository, dispatcher NotificationDispatcher, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:       repo,
		dispatcher: dispatcher,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "notification_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/notification"),
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, ErrEmptyMessage
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(
		attribute.Int("notification.user_id", int(payload.UserID)),
		attribute.String("notification.type", payload.Type),
	))
	defer span.End()

	model := models.Notification{
		UserID:  payload.UserID,
		Type:    payload.Type,
		Title:   strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
		Message: cleanMessage,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	if s.dispatcher != nil {
		s.dispatcher.NotifyUser(spanCtx, response.UserID, dto.RealtimeEvent{
			Type:    dto.EventNotification,
			Payload: response,
		})
	}

	observability.NotificationsStored().WithLabelValues(response.Type).Inc()

	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID uint, limit, offset int) ([]dto.NotificationResponse, error) {
	if userID == 0 {
		return nil, errors.New("user id is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID uint) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.Int("notification.user_id", int(userID)),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint) (dto.NotificationReadAllResponse, error) {
	if userID == 0 {
		return dto.NotificationReadAllResponse{}, errors.New("user id is required")
	}

	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return dto.NotificationReadAllResponse{}, err
	}
	return dto.NotificationReadAllResponse{Updated: updated}, nil
}

// Announce pushes a live, unpersisted message to every connected session on every node.
func (s *notificationService) Announce(ctx context.Context, senderID uint, payload dto.AnnouncementRequest) (dto.AnnouncementPayload, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnnouncementPayload{}, err
	}
	if s.dispatcher == nil {
		return dto.AnnouncementPayload{}, ErrRealtimeUnavailable
	}

	message := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if message == "" {
		return dto.AnnouncementPayload{}, ErrEmptyMessage
	}

	announcement := dto.AnnouncementPayload{
		SenderID: senderID,
		Title:    strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
		Message:  message,
	}
	s.dispatcher.Broadcast(ctx, dto.RealtimeEvent{Type: dto.EventAnnouncement, Payload: announcement})
	s.logger.Info().Uint("sender_id", senderID).Msg("announcement broadcast")

	return announcement, nil
}
