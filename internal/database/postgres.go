package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// ConnectPostgres establishes a connection to the PostgreSQL database using the provided DSN.
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates the tables owned or read by the assessment core.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Assignment{},
		&models.Question{},
		&models.QuestionOption{},
		&models.AssignmentQuestion{},
		&models.ClassEnrollment{},
		&models.Submission{},
		&models.SubmissionAnswer{},
		&models.SubmissionGradeHistory{},
		&models.CodeArtifact{},
		&models.DesignArtifact{},
		&models.XPTransaction{},
		&models.StudentXP{},
		&models.PeriodGrade{},
		&models.Notification{},
	)
}
