package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/grading"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// SubmissionService governs a student's single attempt at an assignment.
type SubmissionService interface {
	StartOrGet(ctx context.Context, actor Actor, req dto.StartSubmissionRequest) (dto.StartSubmissionResponse, error)
	RecordAnswer(ctx context.Context, actor Actor, submissionID uint, req dto.RecordAnswerRequest) (dto.AnswerResultResponse, error)
	Finalize(ctx context.Context, actor Actor, submissionID uint) (dto.FinalizeResponse, error)
	Grade(ctx context.Context, actor Actor, submissionID uint, req dto.GradeSubmissionRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, actor Actor, submissionID uint) (dto.SubmissionDetailResponse, error)
}

type submissionService struct {
	transactor  repository.Transactor
	assignments repository.AssignmentRepository
	roster      repository.RosterRepository
	submissions repository.SubmissionRepository
	ledger      XPLedgerService
	hooks       Hooks
	grader      *gradingFlow
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService wires the submission lifecycle.
func NewSubmissionService(
	transactor repository.Transactor,
	assignments repository.AssignmentRepository,
	roster repository.RosterRepository,
	submissions repository.SubmissionRepository,
	ledger XPLedgerService,
	hooks Hooks,
	validate *validator.Validate,
	logger zerolog.Logger,
) SubmissionService {
	log := logger.With().Str("component", "submission_service").Logger()
	tracer := otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/submission")

	return &submissionService{
		transactor:  transactor,
		assignments: assignments,
		roster:      roster,
		submissions: submissions,
		ledger:      ledger,
		hooks:       hooks.withDefaults(logger),
		grader: &gradingFlow{
			transactor:  transactor,
			submissions: submissions,
			ledger:      ledger,
			tracer:      tracer,
			logger:      log,
		},
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    log,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *submissionService) StartOrGet(ctx context.Context, actor Actor, req dto.StartSubmissionRequest) (dto.StartSubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StartSubmissionResponse{}, err
	}

	assignment, err := s.assignments.GetByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StartSubmissionResponse{}, ErrAssignmentNotFound
		}
		return dto.StartSubmissionResponse{}, err
	}

	enrolled, err := s.roster.IsEnrolled(ctx, assignment.ClassID, actor.ID)
	if err != nil {
		return dto.StartSubmissionResponse{}, err
	}
	if !enrolled {
		return dto.StartSubmissionResponse{}, ErrNotEligible
	}

	now := s.now()
	switch {
	case assignment.Status == models.AssignmentStatusDraft:
		return dto.StartSubmissionResponse{}, ErrNotPublished
	case assignment.Status == models.AssignmentStatusClosed, assignment.EndedAt(now):
		return dto.StartSubmissionResponse{}, ErrAssignmentClosed
	case assignment.Status != models.AssignmentStatusPublished:
		return dto.StartSubmissionResponse{}, ErrNotPublished
	case assignment.StartsAt != nil && now.Before(*assignment.StartsAt):
		return dto.StartSubmissionResponse{}, ErrNotPublished
	}

	stored, created, err := s.submissions.CreateIfAbsent(ctx, models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    actor.ID,
		Status:       models.SubmissionStatusInProgress,
		StartedAt:    now,
	})
	if err != nil {
		return dto.StartSubmissionResponse{}, fmt.Errorf("start submission: %w", err)
	}

	if created {
		s.logger.Info().
			Uint("submission_id", stored.ID).
			Uint("assignment_id", assignment.ID).
			Uint("student_id", actor.ID).
			Msg("submission started")
	}

	return dto.StartSubmissionResponse{
		Submission:     dto.NewSubmissionResponse(stored),
		AlreadyExisted: !created,
	}, nil
}

func (s *submissionService) RecordAnswer(ctx context.Context, actor Actor, submissionID uint, req dto.RecordAnswerRequest) (dto.AnswerResultResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AnswerResultResponse{}, err
	}

	submission, err := loadOwnedSubmission(ctx, s.submissions, actor, submissionID)
	if err != nil {
		return dto.AnswerResultResponse{}, err
	}
	if !submission.IsOpen() {
		return dto.AnswerResultResponse{}, ErrInvalidState
	}

	link, err := findAssignmentQuestion(ctx, s.assignments, submission.AssignmentID, req.QuestionID)
	if err != nil {
		return dto.AnswerResultResponse{}, err
	}
	question := link.Question

	correct, _ := question.CorrectOption()
	outcome := grading.Grade(grading.Item{
		Type:           question.Type,
		Points:         question.Points,
		PointsOverride: link.PointsOverride,
		CorrectOption:  correct.Letter,
	}, grading.Answer{SelectedOption: req.SelectedOption, Text: req.AnswerText})

	now := s.now()
	answer := models.SubmissionAnswer{
		SubmissionID: submission.ID,
		QuestionID:   question.ID,
		IsCorrect:    outcome.IsCorrect,
		ScoreEarned:  outcome.Score,
		AnsweredAt:   now,
		UpdatedAt:    now,
	}

	var column string
	if grading.IsObjective(question.Type) {
		selected := models.NormalizeLetter(req.SelectedOption)
		answer.SelectedOption = &selected
		column = "selected_option"
	} else {
		text := req.AnswerText
		answer.AnswerText = &text
		column = "answer_text"
	}

	err = s.transactor.InTx(ctx, func(tx *gorm.DB) error {
		submissions := s.submissions.WithTx(tx)
		if err := submissions.TouchOpen(ctx, submission.ID, now); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return ErrInvalidState
			}
			return err
		}
		return submissions.UpsertAnswer(ctx, &answer, column)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return dto.AnswerResultResponse{}, err
		}
		return dto.AnswerResultResponse{}, fmt.Errorf("record answer: %w", err)
	}

	response := dto.AnswerResultResponse{
		QuestionID:  question.ID,
		IsCorrect:   outcome.IsCorrect,
		ScoreEarned: outcome.Score,
		Deferred:    outcome.Deferred,
	}
	if outcome.IsCorrect != nil && !*outcome.IsCorrect {
		if correct.Letter != "" {
			response.CorrectOption = &dto.CorrectOptionResponse{Letter: correct.Letter, Content: correct.Content}
		}
		response.Explanation = question.Explanation
	}

	return response, nil
}

func (s *submissionService) Finalize(ctx context.Context, actor Actor, submissionID uint) (dto.FinalizeResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "submissions.finalize", trace.WithAttributes(
		attribute.Int("submission.id", int(submissionID)),
	))
	defer span.End()

	submission, err := loadOwnedSubmission(spanCtx, s.submissions, actor, submissionID)
	if err != nil {
		return dto.FinalizeResponse{}, err
	}
	if !submission.IsOpen() {
		return dto.FinalizeResponse{}, ErrAlreadyFinalized
	}

	assignment := submission.Assignment
	now := s.now()
	status := models.SubmissionStatusSubmitted
	if assignment.EndedAt(now) {
		status = models.SubmissionStatusLate
	}

	var (
		result  grading.Result
		xp      models.StudentXP
		updated models.Submission
	)
	err = s.transactor.InTx(spanCtx, func(tx *gorm.DB) error {
		submissions := s.submissions.WithTx(tx)

		if err := submissions.MarkFinal(spanCtx, submission.ID, status, now); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return ErrAlreadyFinalized
			}
			return fmt.Errorf("mark final: %w", err)
		}

		total, err := submissions.SumAnswerScores(spanCtx, submission.ID)
		if err != nil {
			return fmt.Errorf("sum answer scores: %w", err)
		}

		result = grading.Aggregate(total, assignment.EffectiveMaxScore(), assignment.XPReward)
		if err := submissions.ApplyScore(spanCtx, submission.ID, result.Score, result.XPEarned); err != nil {
			return fmt.Errorf("apply score: %w", err)
		}

		sourceID := assignment.ID
		xp, err = s.ledger.CreditTx(spanCtx, tx, models.XPTransaction{
			StudentID:   submission.StudentID,
			Amount:      result.XPEarned,
			SourceKind:  models.XPSourceSubmission,
			SourceID:    &sourceID,
			Description: fmt.Sprintf("Completed %q: %.1f%%", assignment.Title, result.Percent),
		})
		if err != nil {
			return err
		}

		updated, err = submissions.GetByID(spanCtx, submission.ID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyFinalized) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "finalize failed")
		}
		return dto.FinalizeResponse{}, err
	}

	observability.SubmissionsFinalized().WithLabelValues(string(status)).Inc()

	response := dto.FinalizeResponse{
		Submission: dto.NewSubmissionResponse(updated),
		Score:      result.Score,
		Percent:    result.Percent,
		XPEarned:   result.XPEarned,
		TotalXP:    xp.TotalXP,
		Level:      xp.Level,
		LeveledUp:  xp.Level > models.LevelFor(xp.TotalXP-result.XPEarned),
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("status", string(status)).
		Float64("score", result.Score).
		Int("xp_earned", result.XPEarned).
		Msg("submission finalized")

	s.hooks.afterFinalize(spanCtx, updated, response)

	return response, nil
}

func (s *submissionService) Grade(ctx context.Context, actor Actor, submissionID uint, req dto.GradeSubmissionRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	if submission.IsOpen() {
		return dto.SubmissionResponse{}, ErrInvalidState
	}
	if req.Score > submission.Assignment.EffectiveMaxScore() {
		return dto.SubmissionResponse{}, ErrScoreExceedsMax
	}

	feedback := strings.TrimSpace(s.sanitizer.Sanitize(req.Feedback))
	outcome, err := s.grader.apply(ctx, gradeCommand{
		submission:     submission,
		graderID:       actor.ID,
		feedback:       feedback,
		historyComment: feedback,
		at:             s.now(),
		score: func(context.Context, *gorm.DB) (float64, error) {
			return req.Score, nil
		},
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.hooks.afterGrade(ctx, outcome.submission, outcome)

	return dto.NewSubmissionResponse(outcome.submission), nil
}

func (s *submissionService) Get(ctx context.Context, actor Actor, submissionID uint) (dto.SubmissionDetailResponse, error) {
	submission, err := s.submissions.GetWithAnswers(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionDetailResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionDetailResponse{}, err
	}
	if !actor.canView(submission.StudentID) {
		return dto.SubmissionDetailResponse{}, ErrSubmissionNotFound
	}
	return dto.NewSubmissionDetailResponse(submission), nil
}

// loadOwnedSubmission returns the submission only when the actor owns it.
func loadOwnedSubmission(ctx context.Context, repo repository.SubmissionRepository, actor Actor, submissionID uint) (models.Submission, error) {
	submission, err := repo.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	if submission.StudentID != actor.ID {
		return models.Submission{}, ErrSubmissionNotFound
	}
	return submission, nil
}

func findAssignmentQuestion(ctx context.Context, repo repository.AssignmentRepository, assignmentID, questionID uint) (models.AssignmentQuestion, error) {
	link, err := repo.FindQuestion(ctx, assignmentID, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AssignmentQuestion{}, ErrQuestionNotFound
		}
		return models.AssignmentQuestion{}, err
	}
	return link, nil
}
