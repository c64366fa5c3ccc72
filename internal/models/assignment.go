package models

import "time"

// AssignmentStatus captures the publication state of an assignment.
type AssignmentStatus string

const (
	// AssignmentStatusDraft marks an assignment that students cannot see yet.
	AssignmentStatusDraft AssignmentStatus = "draft"
	// AssignmentStatusPublished marks an assignment that accepts submissions.
	AssignmentStatusPublished AssignmentStatus = "published"
	// AssignmentStatusClosed marks an assignment that no longer accepts new attempts.
	AssignmentStatusClosed AssignmentStatus = "closed"
)

// DefaultMaxScore is used whenever an assignment carries no positive max score.
const DefaultMaxScore = 100.0

// Assignment is owned by the class management collaborator; the assessment core only reads it.
type Assignment struct {
	ID          uint                 `gorm:"primaryKey" json:"id"`
	ClassID     uint                 `gorm:"index;not null" json:"class_id"`
	SubjectID   uint                 `gorm:"index;not null" json:"subject_id"`
	TeacherID   uint                 `gorm:"index" json:"teacher_id"`
	Title       string               `gorm:"size:255;not null" json:"title"`
	Description string               `gorm:"type:text" json:"description"`
	Status      AssignmentStatus     `gorm:"size:16;not null;default:draft" json:"status"`
	MaxScore    float64              `gorm:"column:max_score;not null;default:100" json:"max_score"`
	XPReward    int                  `gorm:"column:xp_reward;not null;default:0" json:"xp_reward"`
	StartsAt    *time.Time           `json:"starts_at"`
	EndsAt      *time.Time           `json:"ends_at"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Questions   []AssignmentQuestion `gorm:"foreignKey:AssignmentID" json:"questions,omitempty"`
}

// EffectiveMaxScore returns the max score used for percentage calculations.
func (a Assignment) EffectiveMaxScore() float64 {
	if a.MaxScore <= 0 {
		return DefaultMaxScore
	}
	return a.MaxScore
}

// EndedAt reports whether the assignment window has passed at the given instant.
func (a Assignment) EndedAt(now time.Time) bool {
	return a.EndsAt != nil && now.After(*a.EndsAt)
}

// AssignmentQuestion links a bank question to an assignment with an optional point override.
type AssignmentQuestion struct {
	ID             uint     `gorm:"primaryKey" json:"id"`
	AssignmentID   uint     `gorm:"not null;uniqueIndex:idx_assignment_question" json:"assignment_id"`
	QuestionID     uint     `gorm:"not null;uniqueIndex:idx_assignment_question" json:"question_id"`
	OrderIndex     int      `gorm:"not null;default:0" json:"order_index"`
	PointsOverride *float64 `json:"points_override"`
	Question       Question `gorm:"foreignKey:QuestionID" json:"question"`
}
