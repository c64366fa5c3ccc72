package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// GradeRepository maintains the per-period gradebook.
type GradeRepository interface {
	AverageScore(ctx context.Context, studentID, classID, subjectID uint) (float64, bool, error)
	Upsert(ctx context.Context, grade *models.PeriodGrade) error
	Find(ctx context.Context, studentID, classID, subjectID uint, period, year int) (models.PeriodGrade, error)
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository constructs the gradebook repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

// AverageScore averages the non-null scores of the student's final submissions
// for assignments of the class and subject. ok is false when nothing is scored.
func (r *gradeRepository) AverageScore(ctx context.Context, studentID, classID, subjectID uint) (float64, bool, error) {
	var row struct {
		Average *float64
		Scored  int64
	}
	err := r.db.WithContext(ctx).
		Table("submissions").
		Select("AVG(submissions.score) AS average, COUNT(submissions.score) AS scored").
		Joins("JOIN assignments ON assignments.id = submissions.assignment_id").
		Where("submissions.student_id = ? AND assignments.class_id = ? AND assignments.subject_id = ?", studentID, classID, subjectID).
		Where("submissions.status IN ? AND submissions.score IS NOT NULL", models.FinalStatuses).
		Scan(&row).Error
	if err != nil {
		return 0, false, err
	}
	if row.Scored == 0 || row.Average == nil {
		return 0, false, nil
	}
	return *row.Average, true, nil
}

// Upsert replaces the grade for the entry's unique key.
func (r *gradeRepository) Upsert(ctx context.Context, grade *models.PeriodGrade) error {
	grade.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "student_id"}, {Name: "class_id"}, {Name: "subject_id"}, {Name: "period"}, {Name: "academic_year"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"grade", "updated_at"}),
		}).
		Create(grade).Error
}

func (r *gradeRepository) Find(ctx context.Context, studentID, classID, subjectID uint, period, year int) (models.PeriodGrade, error) {
	var grade models.PeriodGrade
	if err := r.db.WithContext(ctx).
		Where("student_id = ? AND class_id = ? AND subject_id = ? AND period = ? AND academic_year = ?", studentID, classID, subjectID, period, year).
		First(&grade).Error; err != nil {
		return models.PeriodGrade{}, err
	}
	return grade, nil
}
