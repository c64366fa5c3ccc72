package models

import (
	"time"

	"gorm.io/datatypes"
)

// DesignArtifact stores the drawing produced for a design question and its manual rating.
type DesignArtifact struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	SubmissionID   uint           `gorm:"not null;uniqueIndex:idx_design_artifact_answer" json:"submission_id"`
	QuestionID     uint           `gorm:"not null;uniqueIndex:idx_design_artifact_answer" json:"question_id"`
	StudentID      uint           `gorm:"not null;index" json:"student_id"`
	CanvasData     datatypes.JSON `gorm:"type:json" json:"canvas_data"`
	PreviewURL     string         `gorm:"size:512" json:"preview_url"`
	Points         float64        `gorm:"not null;default:0" json:"points"`
	TeacherRating  *int           `json:"teacher_rating"`
	TeacherComment string         `gorm:"type:text" json:"teacher_comment"`
	RatedBy        *uint          `json:"rated_by"`
	RatedAt        *time.Time     `json:"rated_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
