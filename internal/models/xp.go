package models

import "time"

// XPSourceKind classifies why XP was credited.
type XPSourceKind string

const (
	XPSourceSubmission  XPSourceKind = "submission"
	XPSourceBonus       XPSourceKind = "bonus"
	XPSourceAchievement XPSourceKind = "achievement"
	XPSourceAttendance  XPSourceKind = "attendance"
	XPSourcePenalty     XPSourceKind = "penalty"
)

// XPPerLevel is the amount of XP needed to advance one level.
const XPPerLevel = 1000

// Valid reports whether the kind is one of the known sources.
func (k XPSourceKind) Valid() bool {
	switch k {
	case XPSourceSubmission, XPSourceBonus, XPSourceAchievement, XPSourceAttendance, XPSourcePenalty:
		return true
	}
	return false
}

// XPTransaction is an append-only ledger row. Rows are never updated or deleted.
type XPTransaction struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	StudentID   uint         `gorm:"not null;index" json:"student_id"`
	Amount      int          `gorm:"not null" json:"amount"`
	SourceKind  XPSourceKind `gorm:"size:32;not null" json:"source_kind"`
	SourceID    *uint        `json:"source_id"`
	Description string       `gorm:"size:255" json:"description"`
	CreatedAt   time.Time    `gorm:"index" json:"created_at"`
}

// StudentXP is the materialized projection of a student's ledger.
type StudentXP struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	StudentID  uint      `gorm:"not null;uniqueIndex" json:"student_id"`
	TotalXP    int       `gorm:"column:total_xp;not null;default:0" json:"total_xp"`
	Level      int       `gorm:"not null;default:1" json:"level"`
	ClassRank  *int      `json:"class_rank"`
	YearRank   *int      `json:"year_rank"`
	SchoolRank *int      `json:"school_rank"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName keeps the singular table name used by reporting jobs.
func (StudentXP) TableName() string {
	return "student_xp"
}

// LevelFor derives the level from a total XP amount.
func LevelFor(totalXP int) int {
	if totalXP < 0 {
		return 1
	}
	return totalXP/XPPerLevel + 1
}
