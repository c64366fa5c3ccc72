package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// GradebookService recomputes a student's period grade after scores change.
type GradebookService interface {
	UpdateAverage(ctx context.Context, studentID, classID, subjectID uint) error
}

type gradebookService struct {
	repo   repository.GradeRepository
	now    func() time.Time
	logger zerolog.Logger
}

// NewGradebookService constructs the gradebook updater. now defaults to the UTC wall clock.
func NewGradebookService(repo repository.GradeRepository, now func() time.Time, logger zerolog.Logger) GradebookService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &gradebookService{
		repo:   repo,
		now:    now,
		logger: logger.With().Str("component", "gradebook_service").Logger(),
	}
}

// UpdateAverage replaces the current period's grade with the mean of the student's
// finalized scores for the class and subject. Nothing is written when no score exists.
func (s *gradebookService) UpdateAverage(ctx context.Context, studentID, classID, subjectID uint) error {
	average, ok, err := s.repo.AverageScore(ctx, studentID, classID, subjectID)
	if err != nil {
		return fmt.Errorf("average score: %w", err)
	}
	if !ok {
		return nil
	}

	period, year := models.PeriodFor(s.now())
	grade := models.PeriodGrade{
		StudentID:    studentID,
		ClassID:      classID,
		SubjectID:    subjectID,
		Period:       period,
		AcademicYear: year,
		Grade:        average,
	}
	if err := s.repo.Upsert(ctx, &grade); err != nil {
		return fmt.Errorf("upsert period grade: %w", err)
	}

	s.logger.Debug().
		Uint("student_id", studentID).
		Uint("class_id", classID).
		Uint("subject_id", subjectID).
		Int("period", period).
		Float64("grade", average).
		Msg("period grade updated")
	return nil
}
