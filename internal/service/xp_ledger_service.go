package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// XPLedgerService credits XP through the append-only ledger.
type XPLedgerService interface {
	Credit(ctx context.Context, req dto.XPCreditRequest) (dto.StudentXPResponse, error)
	CreditTx(ctx context.Context, tx *gorm.DB, entry models.XPTransaction) (models.StudentXP, error)
	Balance(ctx context.Context, studentID uint) (dto.StudentXPResponse, error)
	History(ctx context.Context, studentID uint, limit int) ([]dto.XPTransactionResponse, error)
}

type xpLedgerService struct {
	repo        repository.XPRepository
	leaderboard LeaderboardService
	runner      *AsyncRunner
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewXPLedgerService constructs the ledger service. leaderboard may be nil.
func NewXPLedgerService(repo repository.XPRepository, leaderboard LeaderboardService, runner *AsyncRunner, validate *validator.Validate, logger zerolog.Logger) XPLedgerService {
	return &xpLedgerService{
		repo:        repo,
		leaderboard: leaderboard,
		runner:      runner,
		validator:   validate,
		logger:      logger.With().Str("component", "xp_ledger_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/xp"),
	}
}

// ValidateCredit enforces the ledger rules shared by every credit path.
func ValidateCredit(entry models.XPTransaction) error {
	if entry.StudentID == 0 {
		return fmt.Errorf("%w: student is required", ErrInvalidXPCredit)
	}
	if !entry.SourceKind.Valid() {
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidXPCredit, entry.SourceKind)
	}
	if entry.Amount < 0 && entry.SourceKind != models.XPSourcePenalty {
		return fmt.Errorf("%w: negative amounts require the penalty source", ErrInvalidXPCredit)
	}
	return nil
}

func (s *xpLedgerService) Credit(ctx context.Context, req dto.XPCreditRequest) (dto.StudentXPResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentXPResponse{}, err
	}

	entry := models.XPTransaction{
		StudentID:   req.StudentID,
		Amount:      req.Amount,
		SourceKind:  req.SourceKind,
		SourceID:    req.SourceID,
		Description: req.Description,
	}

	updated, err := s.credit(ctx, s.repo, entry)
	if err != nil {
		return dto.StudentXPResponse{}, err
	}

	if s.leaderboard != nil && s.runner != nil {
		s.runner.Go(ctx, "leaderboard", func(ctx context.Context) error {
			return s.leaderboard.Record(ctx, updated.StudentID, updated.TotalXP)
		})
	}

	return dto.NewStudentXPResponse(updated), nil
}

// CreditTx applies the credit inside the caller's transaction.
func (s *xpLedgerService) CreditTx(ctx context.Context, tx *gorm.DB, entry models.XPTransaction) (models.StudentXP, error) {
	return s.credit(ctx, s.repo.WithTx(tx), entry)
}

func (s *xpLedgerService) credit(ctx context.Context, repo repository.XPRepository, entry models.XPTransaction) (models.StudentXP, error) {
	if err := ValidateCredit(entry); err != nil {
		return models.StudentXP{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "xp.credit", trace.WithAttributes(
		attribute.Int("xp.student_id", int(entry.StudentID)),
		attribute.Int("xp.amount", entry.Amount),
		attribute.String("xp.source_kind", string(entry.SourceKind)),
	))
	defer span.End()

	updated, err := repo.Credit(spanCtx, &entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		return models.StudentXP{}, fmt.Errorf("credit xp: %w", err)
	}

	if entry.Amount > 0 {
		observability.XPCredited().WithLabelValues(string(entry.SourceKind)).Add(float64(entry.Amount))
	}
	s.logger.Debug().
		Uint("student_id", entry.StudentID).
		Int("amount", entry.Amount).
		Str("source_kind", string(entry.SourceKind)).
		Int("total_xp", updated.TotalXP).
		Msg("xp credited")

	return updated, nil
}

func (s *xpLedgerService) Balance(ctx context.Context, studentID uint) (dto.StudentXPResponse, error) {
	xp, err := s.repo.Get(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NewStudentXPResponse(models.StudentXP{StudentID: studentID, Level: 1}), nil
		}
		return dto.StudentXPResponse{}, err
	}
	return dto.NewStudentXPResponse(xp), nil
}

func (s *xpLedgerService) History(ctx context.Context, studentID uint, limit int) ([]dto.XPTransactionResponse, error) {
	entries, err := s.repo.History(ctx, studentID, limit)
	if err != nil {
		return nil, err
	}
	return dto.NewXPTransactionResponseSlice(entries), nil
}
