package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// RosterRepository answers class membership questions.
type RosterRepository interface {
	IsEnrolled(ctx context.Context, classID, studentID uint) (bool, error)
}

type rosterRepository struct {
	db *gorm.DB
}

// NewRosterRepository constructs a roster repository.
func NewRosterRepository(db *gorm.DB) RosterRepository {
	return &rosterRepository{db: db}
}

func (r *rosterRepository) IsEnrolled(ctx context.Context, classID, studentID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ClassEnrollment{}).
		Where("class_id = ? AND student_id = ?", classID, studentID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
