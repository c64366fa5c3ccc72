package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// XPRepository owns the XP ledger and its materialized totals.
type XPRepository interface {
	WithTx(tx *gorm.DB) XPRepository
	Credit(ctx context.Context, entry *models.XPTransaction) (models.StudentXP, error)
	Get(ctx context.Context, studentID uint) (models.StudentXP, error)
	History(ctx context.Context, studentID uint, limit int) ([]models.XPTransaction, error)
	LedgerSum(ctx context.Context, studentID uint) (int, error)
	Top(ctx context.Context, limit int) ([]models.StudentXP, error)
	TopInClass(ctx context.Context, classID uint, limit int) ([]models.StudentXP, error)
}

type xpRepository struct {
	db *gorm.DB
}

// NewXPRepository constructs the ledger repository.
func NewXPRepository(db *gorm.DB) XPRepository {
	return &xpRepository{db: db}
}

func (r *xpRepository) WithTx(tx *gorm.DB) XPRepository {
	return &xpRepository{db: tx}
}

// Credit appends the ledger row and applies it to the student's total in one
// transaction. The level is derived from the incremented total in the same UPDATE.
func (r *xpRepository) Credit(ctx context.Context, entry *models.XPTransaction) (models.StudentXP, error) {
	var updated models.StudentXP
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}},
			DoNothing: true,
		}).Create(&models.StudentXP{StudentID: entry.StudentID, Level: 1}).Error; err != nil {
			return err
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.StudentXP{}).
			Where("student_id = ?", entry.StudentID).
			Updates(map[string]interface{}{
				"total_xp":   gorm.Expr("total_xp + ?", entry.Amount),
				"level":      gorm.Expr("CASE WHEN total_xp + ? < 0 THEN 1 ELSE (total_xp + ?) / ? + 1 END", entry.Amount, entry.Amount, models.XPPerLevel),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return err
		}

		return tx.Where("student_id = ?", entry.StudentID).First(&updated).Error
	})
	if err != nil {
		return models.StudentXP{}, err
	}
	return updated, nil
}

func (r *xpRepository) Get(ctx context.Context, studentID uint) (models.StudentXP, error) {
	var xp models.StudentXP
	if err := r.db.WithContext(ctx).Where("student_id = ?", studentID).First(&xp).Error; err != nil {
		return models.StudentXP{}, err
	}
	return xp, nil
}

func (r *xpRepository) History(ctx context.Context, studentID uint, limit int) ([]models.XPTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var entries []models.XPTransaction
	if err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *xpRepository) LedgerSum(ctx context.Context, studentID uint) (int, error) {
	var row struct {
		Total int
	}
	if err := r.db.WithContext(ctx).
		Model(&models.XPTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("student_id = ?", studentID).
		Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.Total, nil
}

func (r *xpRepository) Top(ctx context.Context, limit int) ([]models.StudentXP, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var rows []models.StudentXP
	if err := r.db.WithContext(ctx).
		Order("total_xp DESC, student_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TopInClass ranks only the students enrolled in classID.
func (r *xpRepository) TopInClass(ctx context.Context, classID uint, limit int) ([]models.StudentXP, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var rows []models.StudentXP
	if err := r.db.WithContext(ctx).
		Joins("JOIN class_enrollments ON class_enrollments.student_id = student_xp.student_id AND class_enrollments.class_id = ?", classID).
		Order("student_xp.total_xp DESC, student_xp.student_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
