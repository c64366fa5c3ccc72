package models

import (
	"strings"
	"time"
)

// QuestionType is the closed set of question kinds the grader understands.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeOpen           QuestionType = "open"
	QuestionTypeCode           QuestionType = "code"
	QuestionTypeDesign         QuestionType = "design"
)

// Question belongs to the question bank collaborator.
type Question struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	Type           QuestionType     `gorm:"size:32;not null;index" json:"type"`
	Content        string           `gorm:"type:text;not null" json:"content"`
	Points         float64          `gorm:"not null;default:10" json:"points"`
	Explanation    string           `gorm:"type:text" json:"explanation"`
	Stdin          string           `gorm:"type:text" json:"stdin"`
	ExpectedOutput string           `gorm:"type:text" json:"expected_output"`
	Options        []QuestionOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// QuestionOption is a lettered choice of an objective question.
type QuestionOption struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID uint   `gorm:"not null;index" json:"question_id"`
	Letter     string `gorm:"size:4;not null" json:"letter"`
	Content    string `gorm:"type:text" json:"content"`
	IsCorrect  bool   `gorm:"not null;default:false" json:"is_correct"`
}

// CorrectOption returns the designated correct option, if the question has one.
func (q Question) CorrectOption() (QuestionOption, bool) {
	for _, option := range q.Options {
		if option.IsCorrect {
			return option, true
		}
	}
	return QuestionOption{}, false
}

// NormalizeLetter canonicalises an option letter for comparison.
func NormalizeLetter(letter string) string {
	return strings.ToUpper(strings.TrimSpace(letter))
}
