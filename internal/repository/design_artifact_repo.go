package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// DesignArtifactRepository persists drawings and their teacher ratings.
type DesignArtifactRepository interface {
	WithTx(tx *gorm.DB) DesignArtifactRepository
	Upsert(ctx context.Context, artifact *models.DesignArtifact) error
	GetByID(ctx context.Context, id uint) (models.DesignArtifact, error)
	Rate(ctx context.Context, id uint, rating int, comment string, ratedBy uint, at time.Time) error
	SumRatedScores(ctx context.Context, submissionID uint) (float64, error)
}

type designArtifactRepository struct {
	db *gorm.DB
}

// NewDesignArtifactRepository constructs the design artifact repository.
func NewDesignArtifactRepository(db *gorm.DB) DesignArtifactRepository {
	return &designArtifactRepository{db: db}
}

func (r *designArtifactRepository) WithTx(tx *gorm.DB) DesignArtifactRepository {
	return &designArtifactRepository{db: tx}
}

// Upsert replaces the drawing for (submission, question).
func (r *designArtifactRepository) Upsert(ctx context.Context, artifact *models.DesignArtifact) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"canvas_data", "preview_url", "points", "updated_at"}),
		}).
		Create(artifact).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Where("submission_id = ? AND question_id = ?", artifact.SubmissionID, artifact.QuestionID).
		First(artifact).Error
}

func (r *designArtifactRepository) GetByID(ctx context.Context, id uint) (models.DesignArtifact, error) {
	var artifact models.DesignArtifact
	if err := r.db.WithContext(ctx).First(&artifact, id).Error; err != nil {
		return models.DesignArtifact{}, err
	}
	return artifact, nil
}

func (r *designArtifactRepository) Rate(ctx context.Context, id uint, rating int, comment string, ratedBy uint, at time.Time) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.DesignArtifact{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"teacher_rating":  rating,
			"teacher_comment": comment,
			"rated_by":        ratedBy,
			"rated_at":        at,
			"updated_at":      at,
		}))
}

// SumRatedScores converts every rated drawing of the submission into points.
func (r *designArtifactRepository) SumRatedScores(ctx context.Context, submissionID uint) (float64, error) {
	var row struct {
		Total float64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.DesignArtifact{}).
		Select("COALESCE(SUM(teacher_rating * points / 100.0), 0) AS total").
		Where("submission_id = ? AND teacher_rating IS NOT NULL", submissionID).
		Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.Total, nil
}
