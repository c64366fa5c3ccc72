package models

import "time"

// PeriodGrade is the gradebook entry for one student, class, subject and bimester.
type PeriodGrade struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	StudentID    uint      `gorm:"not null;uniqueIndex:idx_period_grade" json:"student_id"`
	ClassID      uint      `gorm:"not null;uniqueIndex:idx_period_grade" json:"class_id"`
	SubjectID    uint      `gorm:"not null;uniqueIndex:idx_period_grade" json:"subject_id"`
	Period       int       `gorm:"not null;uniqueIndex:idx_period_grade" json:"period"`
	AcademicYear int       `gorm:"not null;uniqueIndex:idx_period_grade" json:"academic_year"`
	Grade        float64   `gorm:"not null" json:"grade"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PeriodFor returns the bimester (1..4) and calendar year for t.
func PeriodFor(t time.Time) (period int, year int) {
	month := int(t.Month())
	return (month + 2) / 3, t.Year()
}
