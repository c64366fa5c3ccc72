package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// AssignmentRepository reads assignment metadata and the question bank links of an assignment.
type AssignmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	FindQuestion(ctx context.Context, assignmentID, questionID uint) (models.AssignmentQuestion, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository creates a new assignment repository instance.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (r *assignmentRepository) FindQuestion(ctx context.Context, assignmentID, questionID uint) (models.AssignmentQuestion, error) {
	var link models.AssignmentQuestion
	err := r.db.WithContext(ctx).
		Preload("Question").
		Preload("Question.Options").
		Where("assignment_id = ? AND question_id = ?", assignmentID, questionID).
		First(&link).Error
	if err != nil {
		return models.AssignmentQuestion{}, err
	}
	return link, nil
}
