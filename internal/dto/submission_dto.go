package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// StartSubmissionRequest begins or resumes an attempt.
type StartSubmissionRequest struct {
	AssignmentID uint `json:"assignment_id" validate:"required"`
}

// RecordAnswerRequest carries one answer. Objective questions use SelectedOption, open ones AnswerText.
type RecordAnswerRequest struct {
	QuestionID     uint   `json:"question_id" validate:"required"`
	SelectedOption string `json:"selected_option" validate:"omitempty,max=4"`
	AnswerText     string `json:"answer_text" validate:"omitempty,max=20000"`
}

// GradeSubmissionRequest is a teacher's manual grade.
type GradeSubmissionRequest struct {
	Score    float64 `json:"score" validate:"gte=0"`
	Feedback string  `json:"feedback" validate:"omitempty,max=5000"`
}

// CorrectOptionResponse reveals the correct choice after a wrong answer.
type CorrectOptionResponse struct {
	Letter  string `json:"letter"`
	Content string `json:"content"`
}

// AnswerResultResponse is returned after recording an answer.
type AnswerResultResponse struct {
	QuestionID    uint                   `json:"question_id"`
	IsCorrect     *bool                  `json:"is_correct"`
	ScoreEarned   float64                `json:"score_earned"`
	Deferred      bool                   `json:"deferred"`
	CorrectOption *CorrectOptionResponse `json:"correct_option,omitempty"`
	Explanation   string                 `json:"explanation,omitempty"`
}

// SubmissionResponse is the public representation of a submission.
type SubmissionResponse struct {
	ID           uint                    `json:"id"`
	AssignmentID uint                    `json:"assignment_id"`
	StudentID    uint                    `json:"student_id"`
	Status       models.SubmissionStatus `json:"status"`
	Score        *float64                `json:"score"`
	XPEarned     int                     `json:"xp_earned"`
	Feedback     string                  `json:"feedback,omitempty"`
	GradedBy     *uint                   `json:"graded_by,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	SubmittedAt  *time.Time              `json:"submitted_at,omitempty"`
	GradedAt     *time.Time              `json:"graded_at,omitempty"`
}

// StartSubmissionResponse reports the attempt and whether it already existed.
type StartSubmissionResponse struct {
	Submission     SubmissionResponse `json:"submission"`
	AlreadyExisted bool               `json:"already_existed"`
}

// AnswerResponse is a stored answer.
type AnswerResponse struct {
	QuestionID     uint      `json:"question_id"`
	SelectedOption *string   `json:"selected_option,omitempty"`
	AnswerText     *string   `json:"answer_text,omitempty"`
	IsCorrect      *bool     `json:"is_correct"`
	ScoreEarned    float64   `json:"score_earned"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// SubmissionDetailResponse includes the answers of a submission.
type SubmissionDetailResponse struct {
	SubmissionResponse
	Answers []AnswerResponse `json:"answers"`
}

// FinalizeResponse summarises a finalized attempt.
type FinalizeResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Score      float64            `json:"score"`
	Percent    float64            `json:"percent"`
	XPEarned   int                `json:"xp_earned"`
	TotalXP    int                `json:"total_xp"`
	Level      int                `json:"level"`
	LeveledUp  bool               `json:"leveled_up"`
}

// NewSubmissionResponse maps a model to its response.
func NewSubmissionResponse(submission models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:           submission.ID,
		AssignmentID: submission.AssignmentID,
		StudentID:    submission.StudentID,
		Status:       submission.Status,
		Score:        submission.Score,
		XPEarned:     submission.XPEarned,
		Feedback:     submission.Feedback,
		GradedBy:     submission.GradedBy,
		StartedAt:    submission.StartedAt,
		SubmittedAt:  submission.SubmittedAt,
		GradedAt:     submission.GradedAt,
	}
}

// NewSubmissionDetailResponse maps a submission with its answers.
func NewSubmissionDetailResponse(submission models.Submission) SubmissionDetailResponse {
	answers := make([]AnswerResponse, 0, len(submission.Answers))
	for _, answer := range submission.Answers {
		answers = append(answers, AnswerResponse{
			QuestionID:     answer.QuestionID,
			SelectedOption: answer.SelectedOption,
			AnswerText:     answer.AnswerText,
			IsCorrect:      answer.IsCorrect,
			ScoreEarned:    answer.ScoreEarned,
			AnsweredAt:     answer.AnsweredAt,
		})
	}
	return SubmissionDetailResponse{
		SubmissionResponse: NewSubmissionResponse(submission),
		Answers:            answers,
	}
}
