package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// GradeUpdate carries the fields written when a submission is manually graded.
type GradeUpdate struct {
	Score    float64
	XPEarned int
	Feedback string
	GradedBy uint
	GradedAt time.Time
}

// SubmissionRepository persists submissions and their answers.
type SubmissionRepository interface {
	WithTx(tx *gorm.DB) SubmissionRepository
	CreateIfAbsent(ctx context.Context, submission models.Submission) (models.Submission, bool, error)
	FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uint) (models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetWithAnswers(ctx context.Context, id uint) (models.Submission, error)
	TouchOpen(ctx context.Context, id uint, at time.Time) error
	UpsertAnswer(ctx context.Context, answer *models.SubmissionAnswer, columns ...string) error
	ReconcileAnswer(ctx context.Context, submissionID, questionID uint, isCorrect bool, score float64, at time.Time) error
	MarkFinal(ctx context.Context, id uint, status models.SubmissionStatus, at time.Time) error
	SumAnswerScores(ctx context.Context, id uint) (float64, error)
	ApplyScore(ctx context.Context, id uint, score float64, xpEarned int) error
	ApplyGrade(ctx context.Context, id uint, expectedRevision int, update GradeUpdate) error
	CreateHistory(ctx context.Context, history *models.SubmissionGradeHistory) error
	ListHistory(ctx context.Context, id uint) ([]models.SubmissionGradeHistory, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository constructs a submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) WithTx(tx *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: tx}
}

// CreateIfAbsent inserts the submission unless one already exists for the
// (assignment, student) pair, and returns the stored row either way.
func (r *submissionRepository) CreateIfAbsent(ctx context.Context, submission models.Submission) (models.Submission, bool, error) {
	result := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assignment_id"}, {Name: "student_id"}},
			DoNothing: true,
		}).
		Create(&submission)
	if result.Error != nil {
		return models.Submission{}, false, result.Error
	}

	stored, err := r.FindByAssignmentAndStudent(ctx, submission.AssignmentID, submission.StudentID)
	if err != nil {
		return models.Submission{}, false, err
	}
	return stored, result.RowsAffected > 0, nil
}

func (r *submissionRepository) FindByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Preload("Assignment").First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) GetWithAnswers(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Preload("Assignment").
		Preload("Answers", func(db *gorm.DB) *gorm.DB { return db.Order("question_id ASC") }).
		First(&submission, id).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// TouchOpen bumps updated_at only while the submission is in progress. Inside a
// transaction this also locks the row, serialising answer writes against finalize.
func (r *submissionRepository) TouchOpen(ctx context.Context, id uint, at time.Time) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusInProgress).
		Update("updated_at", at))
}

// UpsertAnswer replaces the answer for (submission, question). Only the listed
// columns are overwritten on conflict.
func (r *submissionRepository) UpsertAnswer(ctx context.Context, answer *models.SubmissionAnswer, columns ...string) error {
	updates := append([]string{"is_correct", "score_earned", "answered_at", "updated_at"}, columns...)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		Create(answer).Error
}

func (r *submissionRepository) ReconcileAnswer(ctx context.Context, submissionID, questionID uint, isCorrect bool, score float64, at time.Time) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.SubmissionAnswer{}).
		Where("submission_id = ? AND question_id = ?", submissionID, questionID).
		Updates(map[string]interface{}{
			"is_correct":   isCorrect,
			"score_earned": score,
			"updated_at":   at,
		}))
}

// MarkFinal moves an in-progress submission to a final status. It returns
// ErrStateChanged when another caller finalized first.
func (r *submissionRepository) MarkFinal(ctx context.Context, id uint, status models.SubmissionStatus, at time.Time) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"submitted_at": at,
			"revision":     gorm.Expr("revision + 1"),
			"updated_at":   at,
		}))
}

func (r *submissionRepository) SumAnswerScores(ctx context.Context, id uint) (float64, error) {
	var row struct {
		Total float64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.SubmissionAnswer{}).
		Select("COALESCE(SUM(score_earned), 0) AS total").
		Where("submission_id = ?", id).
		Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.Total, nil
}

func (r *submissionRepository) ApplyScore(ctx context.Context, id uint, score float64, xpEarned int) error {
	return r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"score":     score,
			"xp_earned": xpEarned,
		}).Error
}

// ApplyGrade writes a manual grade guarded by the revision the caller read.
func (r *submissionRepository) ApplyGrade(ctx context.Context, id uint, expectedRevision int, update GradeUpdate) error {
	return guardAffected(r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND revision = ? AND status IN ?", id, expectedRevision, models.FinalStatuses).
		Updates(map[string]interface{}{
			"status":     models.SubmissionStatusGraded,
			"score":      update.Score,
			"xp_earned":  update.XPEarned,
			"feedback":   update.Feedback,
			"graded_by":  update.GradedBy,
			"graded_at":  update.GradedAt,
			"revision":   gorm.Expr("revision + 1"),
			"updated_at": update.GradedAt,
		}))
}

func (r *submissionRepository) CreateHistory(ctx context.Context, history *models.SubmissionGradeHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

func (r *submissionRepository) ListHistory(ctx context.Context, id uint) ([]models.SubmissionGradeHistory, error) {
	var history []models.SubmissionGradeHistory
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("graded_at ASC, id ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}
