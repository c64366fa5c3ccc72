package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
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
	"github.com/noah-isme/gema-assessment-api/pkg/sandbox"
)

const sweepBatchSize = 100

// CodeEvaluationConfig tunes the evaluation worker pool.
type CodeEvaluationConfig struct {
	Workers           int
	QueueSize         int
	EvaluationTimeout time.Duration
	CompileTimeout    time.Duration
	RunTimeout        time.Duration
	StaleAfter        time.Duration
	SweepInterval     time.Duration
}

func (c CodeEvaluationConfig) withDefaults() CodeEvaluationConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = 10 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Second
	}
	if c.EvaluationTimeout <= 0 {
		c.EvaluationTimeout = c.CompileTimeout + c.RunTimeout + 5*time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * c.EvaluationTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// CodeEvaluationService queues code answers for the sandbox and reconciles verdicts.
// Finalize never waits on it.
type CodeEvaluationService interface {
	Submit(ctx context.Context, actor Actor, submissionID uint, req dto.CodeSubmitRequest) (dto.CodeSubmitResponse, error)
	Result(ctx context.Context, actor Actor, artifactID uint) (dto.CodeResultResponse, error)
	CompleteEvaluation(ctx context.Context, artifactID uint, result sandbox.Result, execErr error) (bool, error)
	Execute(ctx context.Context, req dto.CodeExecuteRequest) (dto.CodeExecuteResponse, error)
	Start(ctx context.Context)
	Wait()
}

type codeEvaluationService struct {
	transactor  repository.Transactor
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	artifacts   repository.CodeArtifactRepository
	sandbox     sandbox.Sandbox
	hooks       Hooks
	cfg         CodeEvaluationConfig
	queue       chan uint
	wg          sync.WaitGroup
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewCodeEvaluationService constructs the evaluator. Workers only run after Start.
func NewCodeEvaluationService(
	transactor repository.Transactor,
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	artifacts repository.CodeArtifactRepository,
	runner sandbox.Sandbox,
	hooks Hooks,
	cfg CodeEvaluationConfig,
	validate *validator.Validate,
	logger zerolog.Logger,
) CodeEvaluationService {
	cfg = cfg.withDefaults()
	return &codeEvaluationService{
		transactor:  transactor,
		assignments: assignments,
		submissions: submissions,
		artifacts:   artifacts,
		sandbox:     runner,
		hooks:       hooks.withDefaults(logger),
		cfg:         cfg,
		queue:       make(chan uint, cfg.QueueSize),
		validator:   validate,
		logger:      logger.With().Str("component", "code_evaluation_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/code"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *codeEvaluationService) Submit(ctx context.Context, actor Actor, submissionID uint, req dto.CodeSubmitRequest) (dto.CodeSubmitResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.CodeSubmitResponse{}, err
	}

	language, ok := sandbox.NormalizeLanguage(req.Language)
	if !ok {
		return dto.CodeSubmitResponse{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	submission, err := loadOwnedSubmission(ctx, s.submissions, actor, submissionID)
	if err != nil {
		return dto.CodeSubmitResponse{}, err
	}
	if !submission.IsOpen() {
		return dto.CodeSubmitResponse{}, ErrInvalidState
	}

	link, err := findAssignmentQuestion(ctx, s.assignments, submission.AssignmentID, req.QuestionID)
	if err != nil {
		return dto.CodeSubmitResponse{}, err
	}
	question := link.Question
	if question.Type != models.QuestionTypeCode {
		return dto.CodeSubmitResponse{}, ErrWrongQuestionType
	}

	now := s.now()
	artifact := models.CodeArtifact{
		SubmissionID:   submission.ID,
		QuestionID:     question.ID,
		StudentID:      submission.StudentID,
		Language:       language,
		SourceCode:     req.SourceCode,
		Stdin:          question.Stdin,
		ExpectedOutput: question.ExpectedOutput,
		Points:         grading.EffectivePoints(question.Points, link.PointsOverride),
		State:          models.EvaluationStatePending,
		CompileStatus:  models.CompileStatusPending,
		RunStatus:      models.RunStatusPending,
	}

	source := req.SourceCode
	err = s.transactor.InTx(ctx, func(tx *gorm.DB) error {
		submissions := s.submissions.WithTx(tx)
		if err := submissions.TouchOpen(ctx, submission.ID, now); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return ErrInvalidState
			}
			return err
		}
		if err := s.artifacts.WithTx(tx).Create(ctx, &artifact); err != nil {
			return fmt.Errorf("create code artifact: %w", err)
		}
		return submissions.UpsertAnswer(ctx, &models.SubmissionAnswer{
			SubmissionID: submission.ID,
			QuestionID:   question.ID,
			AnswerText:   &source,
			AnsweredAt:   now,
			UpdatedAt:    now,
		}, "answer_text")
	})
	if err != nil {
		return dto.CodeSubmitResponse{}, err
	}

	s.enqueue(artifact.ID)

	return dto.CodeSubmitResponse{ArtifactID: artifact.ID, State: artifact.State}, nil
}

func (s *codeEvaluationService) Result(ctx context.Context, actor Actor, artifactID uint) (dto.CodeResultResponse, error) {
	artifact, err := s.artifacts.GetByID(ctx, artifactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CodeResultResponse{}, ErrArtifactNotFound
		}
		return dto.CodeResultResponse{}, err
	}
	if !actor.canView(artifact.StudentID) {
		return dto.CodeResultResponse{}, ErrArtifactNotFound
	}
	return dto.NewCodeResultResponse(artifact), nil
}

// Execute runs code for the web editor without touching any submission. It is
// bounded by the same timeout as queued evaluations.
func (s *codeEvaluationService) Execute(ctx context.Context, req dto.CodeExecuteRequest) (dto.CodeExecuteResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.CodeExecuteResponse{}, err
	}

	language, ok := sandbox.NormalizeLanguage(req.Language)
	if !ok {
		return dto.CodeExecuteResponse{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	spanCtx, span := s.tracer.Start(ctx, "code.execute", trace.WithAttributes(
		attribute.String("artifact.language", language),
	))
	defer span.End()

	execCtx, cancel := context.WithTimeout(spanCtx, s.cfg.EvaluationTimeout)
	defer cancel()

	result, execErr := s.sandbox.Execute(execCtx, sandbox.Request{
		Language:       language,
		SourceCode:     req.SourceCode,
		Stdin:          req.Stdin,
		CompileTimeout: s.cfg.CompileTimeout,
		RunTimeout:     s.cfg.RunTimeout,
	})
	if execErr != nil && !sandbox.IsTimeout(execErr) && !result.TimedOut {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "sandbox execution failed")
		if errors.Is(execErr, sandbox.ErrUnavailable) {
			return dto.CodeExecuteResponse{}, fmt.Errorf("%w: %v", ErrSandboxUnavailable, execErr)
		}
		return dto.CodeExecuteResponse{}, fmt.Errorf("execute code: %w", execErr)
	}

	verdict := grading.ClassifyExecution(result, execErr, "")
	stderr := result.Stderr
	if stderr == "" {
		stderr = result.CompileOutput
	}

	return dto.CodeExecuteResponse{
		Language:      language,
		Output:        result.Stdout,
		Stderr:        stderr,
		ExitCode:      result.ExitCode,
		TimeMs:        result.ExecutionTime.Milliseconds(),
		CompileStatus: verdict.CompileStatus,
		RunStatus:     verdict.RunStatus,
	}, nil
}

// CompleteEvaluation records the terminal verdict of an artifact. Only the first completion
// is applied; applied reports whether this call won. The answer is reconciled only
// for the newest artifact of the question and only while the submission is open.
func (s *codeEvaluationService) CompleteEvaluation(ctx context.Context, artifactID uint, result sandbox.Result, execErr error) (bool, error) {
	artifact, err := s.artifacts.GetByID(ctx, artifactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrArtifactNotFound
		}
		return false, err
	}

	verdict := grading.ClassifyExecution(result, execErr, artifact.ExpectedOutput)
	now := s.now()

	applied := false
	err = s.transactor.InTx(ctx, func(tx *gorm.DB) error {
		artifacts := s.artifacts.WithTx(tx)
		if err := artifacts.Complete(ctx, artifact.ID, repository.CodeCompletion{
			CompileStatus:   verdict.CompileStatus,
			RunStatus:       verdict.RunStatus,
			ActualOutput:    verdict.Output,
			ErrorMessage:    verdict.ErrorMessage,
			ExecutionTimeMs: result.ExecutionTime.Milliseconds(),
			MemoryKB:        result.MemoryKB,
			CompletedAt:     now,
		}); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return nil
			}
			return err
		}
		applied = true

		// The touch locks the submission row, so a resubmission cannot commit
		// between the newest-artifact check and the reconcile.
		submissions := s.submissions.WithTx(tx)
		if err := submissions.TouchOpen(ctx, artifact.SubmissionID, now); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return nil
			}
			return err
		}

		latest, err := artifacts.IsLatest(ctx, artifact)
		if err != nil || !latest {
			return err
		}

		score := 0.0
		if verdict.Passed() {
			score = artifact.Points
		}
		err = submissions.ReconcileAnswer(ctx, artifact.SubmissionID, artifact.QuestionID, verdict.Passed(), score, now)
		if errors.Is(err, repository.ErrStateChanged) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("complete evaluation: %w", err)
	}
	if !applied {
		return false, nil
	}

	observability.CodeEvaluations().WithLabelValues(string(verdict.RunStatus)).Inc()
	s.logger.Info().
		Uint("artifact_id", artifact.ID).
		Str("compile_status", string(verdict.CompileStatus)).
		Str("run_status", string(verdict.RunStatus)).
		Msg("code evaluation completed")

	if completed, err := s.artifacts.GetByID(ctx, artifact.ID); err == nil {
		s.hooks.codeResult(ctx, completed)
	}

	return true, nil
}

// Start launches the worker pool and the stale sweeper. Pending artifacts left by a
// previous process are queued again.
func (s *codeEvaluationService) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.requeuePending(ctx)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Wait blocks until every worker stopped after the Start context was cancelled.
func (s *codeEvaluationService) Wait() {
	s.wg.Wait()
}

func (s *codeEvaluationService) enqueue(artifactID uint) {
	select {
	case s.queue <- artifactID:
	default:
		observability.CodeQueueDropped().Inc()
		s.logger.Warn().Uint("artifact_id", artifactID).Msg("evaluation queue full, artifact left pending")
	}
}

func (s *codeEvaluationService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.evaluate(ctx, id)
		}
	}
}

func (s *codeEvaluationService) evaluate(ctx context.Context, artifactID uint) {
	if err := s.artifacts.MarkDispatched(ctx, artifactID, s.now()); err != nil {
		if !errors.Is(err, repository.ErrStateChanged) {
			s.logger.Error().Err(err).Uint("artifact_id", artifactID).Msg("failed to dispatch artifact")
		}
		return
	}

	artifact, err := s.artifacts.GetByID(ctx, artifactID)
	if err != nil {
		s.logger.Error().Err(err).Uint("artifact_id", artifactID).Msg("failed to load dispatched artifact")
		return
	}

	spanCtx, span := s.tracer.Start(ctx, "code.evaluate", trace.WithAttributes(
		attribute.Int("artifact.id", int(artifact.ID)),
		attribute.String("artifact.language", artifact.Language),
	))
	execCtx, cancel := context.WithTimeout(spanCtx, s.cfg.EvaluationTimeout)
	result, execErr := s.sandbox.Execute(execCtx, sandbox.Request{
		Language:       artifact.Language,
		SourceCode:     artifact.SourceCode,
		Stdin:          artifact.Stdin,
		CompileTimeout: s.cfg.CompileTimeout,
		RunTimeout:     s.cfg.RunTimeout,
	})
	cancel()
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "sandbox execution failed")
	}
	span.End()

	// The verdict is persisted even when shutdown cancelled the worker context.
	if _, err := s.CompleteEvaluation(context.WithoutCancel(ctx), artifact.ID, result, execErr); err != nil {
		s.logger.Error().Err(err).Uint("artifact_id", artifact.ID).Msg("failed to record evaluation result")
	}
}

func (s *codeEvaluationService) sweep(ctx context.Context) {
	stale, err := s.artifacts.ListStale(ctx, s.now().Add(-s.cfg.StaleAfter), sweepBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list stale artifacts")
		return
	}

	for _, artifact := range stale {
		applied, err := s.CompleteEvaluation(ctx, artifact.ID, sandbox.Result{TimedOut: true}, sandbox.ErrTimeout)
		if err != nil {
			s.logger.Error().Err(err).Uint("artifact_id", artifact.ID).Msg("failed to time out stale artifact")
			continue
		}
		if applied {
			s.logger.Warn().Uint("artifact_id", artifact.ID).Str("state", string(artifact.State)).Msg("stale artifact timed out")
		}
	}

	s.requeuePending(ctx)
}

func (s *codeEvaluationService) requeuePending(ctx context.Context) {
	pending, err := s.artifacts.ListPending(ctx, s.cfg.QueueSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending artifacts")
		return
	}
	for _, artifact := range pending {
		s.enqueue(artifact.ID)
	}
}
