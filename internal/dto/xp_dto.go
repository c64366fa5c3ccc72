package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// XPCreditRequest credits or debits XP outside of the submission flow.
type XPCreditRequest struct {
	StudentID   uint                `json:"student_id" validate:"required"`
	Amount      int                 `json:"amount"`
	SourceKind  models.XPSourceKind `json:"source_kind" validate:"required,oneof=submission bonus achievement attendance penalty"`
	SourceID    *uint               `json:"source_id"`
	Description string              `json:"description" validate:"omitempty,max=255"`
}

// StudentXPResponse is the materialized XP projection.
type StudentXPResponse struct {
	StudentID  uint      `json:"student_id"`
	TotalXP    int       `json:"total_xp"`
	Level      int       `json:"level"`
	ClassRank  *int      `json:"class_rank,omitempty"`
	YearRank   *int      `json:"year_rank,omitempty"`
	SchoolRank *int      `json:"school_rank,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// XPTransactionResponse is one ledger row.
type XPTransactionResponse struct {
	ID          uint                `json:"id"`
	Amount      int                 `json:"amount"`
	SourceKind  models.XPSourceKind `json:"source_kind"`
	SourceID    *uint               `json:"source_id,omitempty"`
	Description string              `json:"description"`
	CreatedAt   time.Time           `json:"created_at"`
}

// LeaderboardEntry is a ranked student.
type LeaderboardEntry struct {
	Rank      int  `json:"rank"`
	StudentID uint `json:"student_id"`
	TotalXP   int  `json:"total_xp"`
	Level     int  `json:"level"`
}

// NewStudentXPResponse maps a model to its response.
func NewStudentXPResponse(xp models.StudentXP) StudentXPResponse {
	level := xp.Level
	if level < 1 {
		level = models.LevelFor(xp.TotalXP)
	}
	return StudentXPResponse{
		StudentID:  xp.StudentID,
		TotalXP:    xp.TotalXP,
		Level:      level,
		ClassRank:  xp.ClassRank,
		YearRank:   xp.YearRank,
		SchoolRank: xp.SchoolRank,
		UpdatedAt:  xp.UpdatedAt,
	}
}

// NewXPTransactionResponseSlice maps ledger rows.
func NewXPTransactionResponseSlice(entries []models.XPTransaction) []XPTransactionResponse {
	responses := make([]XPTransactionResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, XPTransactionResponse{
			ID:          entry.ID,
			Amount:      entry.Amount,
			SourceKind:  entry.SourceKind,
			SourceID:    entry.SourceID,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return responses
}
