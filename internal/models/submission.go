package models

import "time"

// SubmissionStatus tracks the forward-only lifecycle of a student's attempt.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in_progress"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
	SubmissionStatusLate       SubmissionStatus = "late"
	SubmissionStatusGraded     SubmissionStatus = "graded"
)

// FinalStatuses lists the statuses whose scores count towards averages and grading.
var FinalStatuses = []SubmissionStatus{SubmissionStatusSubmitted, SubmissionStatusLate, SubmissionStatusGraded}

// Submission is the single attempt a student makes at an assignment.
type Submission struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	AssignmentID uint               `gorm:"not null;uniqueIndex:idx_submission_assignment_student" json:"assignment_id"`
	StudentID    uint               `gorm:"not null;uniqueIndex:idx_submission_assignment_student;index" json:"student_id"`
	Status       SubmissionStatus   `gorm:"size:16;not null;default:in_progress;index" json:"status"`
	Score        *float64           `json:"score"`
	XPEarned     int                `gorm:"column:xp_earned;not null;default:0" json:"xp_earned"`
	Revision     int                `gorm:"not null;default:0" json:"revision"`
	Feedback     string             `gorm:"type:text" json:"feedback"`
	GradedBy     *uint              `json:"graded_by"`
	StartedAt    time.Time          `json:"started_at"`
	SubmittedAt  *time.Time         `json:"submitted_at"`
	GradedAt     *time.Time         `json:"graded_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Assignment   Assignment         `gorm:"foreignKey:AssignmentID" json:"assignment"`
	Answers      []SubmissionAnswer `gorm:"foreignKey:SubmissionID" json:"answers,omitempty"`
}

// IsOpen reports whether answers may still be recorded.
func (s Submission) IsOpen() bool {
	return s.Status == SubmissionStatusInProgress
}

// SubmissionAnswer holds the latest answer to one question of a submission.
type SubmissionAnswer struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubmissionID   uint      `gorm:"not null;uniqueIndex:idx_answer_submission_question" json:"submission_id"`
	QuestionID     uint      `gorm:"not null;uniqueIndex:idx_answer_submission_question" json:"question_id"`
	SelectedOption *string   `gorm:"size:4" json:"selected_option"`
	AnswerText     *string   `gorm:"type:text" json:"answer_text"`
	IsCorrect      *bool     `json:"is_correct"`
	ScoreEarned    float64   `gorm:"not null;default:0" json:"score_earned"`
	AnsweredAt     time.Time `json:"answered_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SubmissionGradeHistory is an append-only audit of manual grading decisions.
type SubmissionGradeHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	Score        float64   `gorm:"not null" json:"score"`
	Feedback     string    `gorm:"type:text" json:"feedback"`
	GradedBy     uint      `gorm:"not null" json:"graded_by"`
	XPDelta      int       `gorm:"column:xp_delta;not null;default:0" json:"xp_delta"`
	GradedAt     time.Time `json:"graded_at"`
}
