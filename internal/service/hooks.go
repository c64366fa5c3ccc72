package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// Hooks groups the collaborators invoked after a grading transaction commits.
// Nil members are skipped.
type Hooks struct {
	Runner        *AsyncRunner
	Dispatcher    NotificationDispatcher
	Notifications NotificationService
	Gradebook     GradebookService
	Leaderboard   LeaderboardService
}

func (h Hooks) withDefaults(logger zerolog.Logger) Hooks {
	if h.Runner == nil {
		h.Runner = NewAsyncRunner(0, logger)
	}
	return h
}

// LevelUpPayload is pushed when a credit moves a student to a higher level.
type LevelUpPayload struct {
	Level   int `json:"level"`
	TotalXP int `json:"total_xp"`
}

func (h Hooks) afterFinalize(ctx context.Context, submission models.Submission, response dto.FinalizeResponse) {
	if h.Dispatcher != nil {
		h.Runner.Go(ctx, "notify_finalized", func(ctx context.Context) error {
			h.Dispatcher.NotifyUser(ctx, submission.StudentID, dto.RealtimeEvent{
				Type:    dto.EventSubmissionFinalized,
				Payload: response,
			})
			if response.LeveledUp {
				h.Dispatcher.NotifyUser(ctx, submission.StudentID, dto.RealtimeEvent{
					Type:    dto.EventLevelUp,
					Payload: LevelUpPayload{Level: response.Level, TotalXP: response.TotalXP},
				})
			}
			return nil
		})
	}

	h.refreshStanding(ctx, submission, &models.StudentXP{StudentID: submission.StudentID, TotalXP: response.TotalXP})
}

func (h Hooks) afterGrade(ctx context.Context, submission models.Submission, outcome gradeOutcome) {
	if h.Notifications != nil {
		h.Runner.Go(ctx, "notify_graded", func(ctx context.Context) error {
			_, err := h.Notifications.Publish(ctx, dto.NotificationCreateRequest{
				UserID:  submission.StudentID,
				Type:    "submission_graded",
				Title:   "Assignment graded",
				Message: fmt.Sprintf("Your submission for %q was graded: %.1f%%.", submission.Assignment.Title, outcome.result.Percent),
			})
			return err
		})
	}

	if h.Dispatcher != nil {
		h.Runner.Go(ctx, "notify_graded_event", func(ctx context.Context) error {
			h.Dispatcher.NotifyUser(ctx, submission.StudentID, dto.RealtimeEvent{
				Type:    dto.EventSubmissionGraded,
				Payload: dto.NewSubmissionResponse(outcome.submission),
			})
			if outcome.leveledUp && outcome.xp != nil {
				h.Dispatcher.NotifyUser(ctx, submission.StudentID, dto.RealtimeEvent{
					Type:    dto.EventLevelUp,
					Payload: LevelUpPayload{Level: outcome.xp.Level, TotalXP: outcome.xp.TotalXP},
				})
			}
			return nil
		})
	}

	h.refreshStanding(ctx, submission, outcome.xp)
}

func (h Hooks) refreshStanding(ctx context.Context, submission models.Submission, xp *models.StudentXP) {
	if h.Gradebook != nil {
		assignment := submission.Assignment
		h.Runner.Go(ctx, "gradebook", func(ctx context.Context) error {
			return h.Gradebook.UpdateAverage(ctx, submission.StudentID, assignment.ClassID, assignment.SubjectID)
		})
	}

	if h.Leaderboard != nil && xp != nil {
		total := xp.TotalXP
		h.Runner.Go(ctx, "leaderboard", func(ctx context.Context) error {
			return h.Leaderboard.Record(ctx, submission.StudentID, total)
		})
	}
}

func (h Hooks) codeResult(ctx context.Context, artifact models.CodeArtifact) {
	if h.Dispatcher == nil {
		return
	}
	h.Runner.Go(ctx, "notify_code_result", func(ctx context.Context) error {
		h.Dispatcher.NotifyUser(ctx, artifact.StudentID, dto.RealtimeEvent{
			Type:    dto.EventCodeResult,
			Payload: dto.NewCodeResultResponse(artifact),
		})
		return nil
	})
}
