package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/grading"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// gradeCommand moves a finalized submission to graded. score runs inside the
// transaction after prepare, so it observes writes made by prepare.
type gradeCommand struct {
	submission     models.Submission
	graderID       uint
	feedback       string
	historyComment string
	at             time.Time
	prepare        func(ctx context.Context, tx *gorm.DB) error
	score          func(ctx context.Context, tx *gorm.DB) (float64, error)
}

type gradeOutcome struct {
	submission models.Submission
	result     grading.Result
	xpDelta    int
	xp         *models.StudentXP
	leveledUp  bool
}

type gradingFlow struct {
	transactor  repository.Transactor
	submissions repository.SubmissionRepository
	ledger      XPLedgerService
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// apply grades the submission and credits only the difference between the new
// XP and the XP already earned, so repeated grading never double-credits.
func (f *gradingFlow) apply(ctx context.Context, cmd gradeCommand) (gradeOutcome, error) {
	submission := cmd.submission
	spanCtx, span := f.tracer.Start(ctx, "submissions.grade", trace.WithAttributes(
		attribute.Int("submission.id", int(submission.ID)),
		attribute.Int("submission.revision", submission.Revision),
	))
	defer span.End()

	var outcome gradeOutcome
	err := f.transactor.InTx(spanCtx, func(tx *gorm.DB) error {
		if cmd.prepare != nil {
			if err := cmd.prepare(spanCtx, tx); err != nil {
				return err
			}
		}

		score, err := cmd.score(spanCtx, tx)
		if err != nil {
			return err
		}

		result := grading.Aggregate(score, submission.Assignment.EffectiveMaxScore(), submission.Assignment.XPReward)
		submissions := f.submissions.WithTx(tx)

		if err := submissions.ApplyGrade(spanCtx, submission.ID, submission.Revision, repository.GradeUpdate{
			Score:    result.Score,
			XPEarned: result.XPEarned,
			Feedback: cmd.feedback,
			GradedBy: cmd.graderID,
			GradedAt: cmd.at,
		}); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return ErrConflict
			}
			return fmt.Errorf("apply grade: %w", err)
		}

		delta := result.XPEarned - submission.XPEarned
		if delta != 0 {
			kind := models.XPSourceSubmission
			description := fmt.Sprintf("Graded %q: %.1f%%", submission.Assignment.Title, result.Percent)
			if delta < 0 {
				kind = models.XPSourcePenalty
				description = fmt.Sprintf("Regrade adjustment for %q: %.1f%%", submission.Assignment.Title, result.Percent)
			}
			sourceID := submission.AssignmentID
			xp, err := f.ledger.CreditTx(spanCtx, tx, models.XPTransaction{
				StudentID:   submission.StudentID,
				Amount:      delta,
				SourceKind:  kind,
				SourceID:    &sourceID,
				Description: description,
			})
			if err != nil {
				return err
			}
			outcome.xp = &xp
			outcome.leveledUp = xp.Level > models.LevelFor(xp.TotalXP-delta)
		}

		if err := submissions.CreateHistory(spanCtx, &models.SubmissionGradeHistory{
			SubmissionID: submission.ID,
			Score:        result.Score,
			Feedback:     cmd.historyComment,
			GradedBy:     cmd.graderID,
			XPDelta:      delta,
			GradedAt:     cmd.at,
		}); err != nil {
			return fmt.Errorf("append grade history: %w", err)
		}

		updated, err := submissions.GetByID(spanCtx, submission.ID)
		if err != nil {
			return err
		}

		outcome.submission = updated
		outcome.result = result
		outcome.xpDelta = delta
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade failed")
		return gradeOutcome{}, err
	}

	f.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("graded_by", cmd.graderID).
		Float64("score", outcome.result.Score).
		Int("xp_delta", outcome.xpDelta).
		Msg("submission graded")

	return outcome, nil
}
