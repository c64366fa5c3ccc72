package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// NotificationCreateRequest describes a persisted notification.
type NotificationCreateRequest struct {
	UserID  uint   `json:"user_id" validate:"required"`
	Type    string `json:"type" validate:"required,max=64"`
	Title   string `json:"title" validate:"required,max=255"`
	Message string `json:"message" validate:"required,max=2000"`
}

// NotificationReadAllResponse reports how many notifications were marked read.
type NotificationReadAllResponse struct {
	Updated int64 `json:"updated"`
}

// AnnouncementRequest is a live message pushed to every connected session.
type AnnouncementRequest struct {
	Title   string `json:"title" validate:"required,max=255"`
	Message string `json:"message" validate:"required,max=2000"`
}

// AnnouncementPayload is the body of an ANNOUNCEMENT event.
type AnnouncementPayload struct {
	SenderID uint   `json:"sender_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// NotificationResponse is the public view of a notification.
type NotificationResponse struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationResponse maps a model to its response.
func NewNotificationResponse(notification models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        notification.ID,
		UserID:    notification.UserID,
		Type:      notification.Type,
		Title:     notification.Title,
		Message:   notification.Message,
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt,
	}
}

// NewNotificationResponseSlice maps a slice of notifications.
func NewNotificationResponseSlice(notifications []models.Notification) []NotificationResponse {
	responses := make([]NotificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		responses = append(responses, NewNotificationResponse(notification))
	}
	return responses
}
