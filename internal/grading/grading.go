// Package grading holds the pure scoring rules applied to submission answers.
package grading

import (
	"math"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// Item is the grading view of an assignment question.
type Item struct {
	Type           models.QuestionType
	Points         float64
	PointsOverride *float64
	CorrectOption  string
}

// Answer is the raw payload a student recorded.
type Answer struct {
	SelectedOption string
	Text           string
}

// Outcome is the result of grading a single answer. Deferred outcomes carry no correctness.
type Outcome struct {
	IsCorrect *bool
	Score     float64
	Deferred  bool
}

// Policy grades one answer for one item.
type Policy func(item Item, answer Answer) Outcome

var policies = map[models.QuestionType]Policy{
	models.QuestionTypeMultipleChoice: gradeSelectedOption,
	models.QuestionTypeTrueFalse:      gradeSelectedOption,
	models.QuestionTypeOpen:           deferGrading,
	models.QuestionTypeCode:           deferGrading,
	models.QuestionTypeDesign:         deferGrading,
}

// Grade applies the policy registered for the item type. Unknown types are deferred.
func Grade(item Item, answer Answer) Outcome {
	policy, ok := policies[item.Type]
	if !ok {
		return deferGrading(item, answer)
	}
	return policy(item, answer)
}

// IsObjective reports whether the type is graded inline.
func IsObjective(questionType models.QuestionType) bool {
	return questionType == models.QuestionTypeMultipleChoice || questionType == models.QuestionTypeTrueFalse
}

// IsKnown reports whether the type has a registered policy.
func IsKnown(questionType models.QuestionType) bool {
	_, ok := policies[questionType]
	return ok
}

// EffectivePoints prefers a positive override over the question's base points.
func EffectivePoints(points float64, override *float64) float64 {
	if override != nil && *override > 0 {
		return *override
	}
	return points
}

func gradeSelectedOption(item Item, answer Answer) Outcome {
	selected := models.NormalizeLetter(answer.SelectedOption)
	correct := selected != "" && selected == models.NormalizeLetter(item.CorrectOption)

	outcome := Outcome{IsCorrect: &correct}
	if correct {
		outcome.Score = EffectivePoints(item.Points, item.PointsOverride)
	}
	return outcome
}

func deferGrading(Item, Answer) Outcome {
	return Outcome{Deferred: true}
}

// Result is the aggregate of a finalized or manually graded submission.
type Result struct {
	Score    float64
	Percent  float64
	XPEarned int
}

// Aggregate converts a raw score into a percentage of maxScore and the XP it earns.
// A non-positive maxScore falls back to the default of 100.
func Aggregate(score, maxScore float64, xpReward int) Result {
	if maxScore <= 0 {
		maxScore = models.DefaultMaxScore
	}
	percent := score / maxScore * 100
	return Result{
		Score:    score,
		Percent:  percent,
		XPEarned: int(math.Round(float64(xpReward) * percent / 100)),
	}
}

// DesignScore converts a 0-100 teacher rating into points for a design question.
func DesignScore(rating int, points float64) float64 {
	return float64(rating) / 100 * points
}
