package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// CodeCompletion is the terminal verdict written to an artifact.
type CodeCompletion struct {
	CompileStatus   models.CompileStatus
	RunStatus       models.RunStatus
	ActualOutput    string
	ErrorMessage    string
	ExecutionTimeMs int64
	MemoryKB        int64
	CompletedAt     time.Time
}

// CodeArtifactRepository persists code evaluation artifacts.
type CodeArtifactRepository interface {
	WithTx(tx *gorm.DB) CodeArtifactRepository
	Create(ctx context.Context, artifact *models.CodeArtifact) error
	GetByID(ctx context.Context, id uint) (models.CodeArtifact, error)
	MarkDispatched(ctx context.Context, id uint, at time.Time) error
	Complete(ctx context.Context, id uint, completion CodeCompletion) error
	IsLatest(ctx context.Context, artifact models.CodeArtifact) (bool, error)
	ListPending(ctx context.Context, limit int) ([]models.CodeArtifact, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.CodeArtifact, error)
}

type codeArtifactRepository struct {
	db *gorm.DB
}

// NewCodeArtifactRepository constructs the artifact repository.
func NewCodeArtifactRepository(db *gorm.DB) CodeArtifactRepository {
	return &codeArtifactRepository{db: db}
}

func (r *codeArtifactRepository) WithTx(tx *gorm.DB) CodeArtifactRepository {
	return &codeArtifactRepository{db: tx}
}

func (r *codeArtifactRepository) Create(ctx context.Context, artifact *models.CodeArtifact) error {
	return r.db.WithContext(ctx).Create(artifact).Error
}

func (r *codeArtifactRepository) GetByID(ctx context.Context, id uint) (models.CodeArtifact, error) {
	var artifact models.CodeArtifact
	if err := r.db.WithContext(ctx).First(&artifact, id).Error; err != nil {
		return models.CodeArtifact{}, err
	}
	return artifact, nil
}

// MarkDispatched claims a pending artifact for a worker.
func (r *codeArtifactRepository) MarkDispatched(ctx context.Context, id uint, at time.Time) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.CodeArtifact{}).
		Where("id = ? AND state = ?", id, models.EvaluationStatePending).
		Updates(map[string]interface{}{
			"state":         models.EvaluationStateDispatched,
			"dispatched_at": at,
			"updated_at":    at,
		}))
}

// Complete writes the terminal verdict unless another writer already did.
func (r *codeArtifactRepository) Complete(ctx context.Context, id uint, completion CodeCompletion) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.CodeArtifact{}).
		Where("id = ? AND state <> ?", id, models.EvaluationStateCompleted).
		Updates(map[string]interface{}{
			"state":             models.EvaluationStateCompleted,
			"compile_status":    completion.CompileStatus,
			"run_status":        completion.RunStatus,
			"actual_output":     completion.ActualOutput,
			"error_message":     completion.ErrorMessage,
			"execution_time_ms": completion.ExecutionTimeMs,
			"memory_kb":         completion.MemoryKB,
			"completed_at":      completion.CompletedAt,
			"updated_at":        completion.CompletedAt,
		}))
}

// IsLatest reports whether no newer artifact exists for the same answer.
func (r *codeArtifactRepository) IsLatest(ctx context.Context, artifact models.CodeArtifact) (bool, error) {
	var newer int64
	if err := r.db.WithContext(ctx).
		Model(&models.CodeArtifact{}).
		Where("submission_id = ? AND question_id = ? AND id > ?", artifact.SubmissionID, artifact.QuestionID, artifact.ID).
		Count(&newer).Error; err != nil {
		return false, err
	}
	return newer == 0, nil
}

func (r *codeArtifactRepository) ListPending(ctx context.Context, limit int) ([]models.CodeArtifact, error) {
	return r.list(ctx, r.db.Where("state = ?", models.EvaluationStatePending), limit)
}

// ListStale returns non-terminal artifacts that have not moved since before.
func (r *codeArtifactRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.CodeArtifact, error) {
	return r.list(ctx, r.db.Where("state <> ? AND updated_at < ?", models.EvaluationStateCompleted, before), limit)
}

func (r *codeArtifactRepository) list(ctx context.Context, query *gorm.DB, limit int) ([]models.CodeArtifact, error) {
	if limit <= 0 {
		limit = 100
	}

	var artifacts []models.CodeArtifact
	if err := query.WithContext(ctx).Order("id ASC").Limit(limit).Find(&artifacts).Error; err != nil {
		return nil, err
	}
	return artifacts, nil
}
