package service

import "errors"

var (
	// ErrSubmissionNotFound indicates the submission does not exist or is not visible to the caller.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrQuestionNotFound indicates the question is not part of the assignment.
	ErrQuestionNotFound = errors.New("question not found for assignment")
	// ErrArtifactNotFound indicates the code or design artifact does not exist or is not visible to the caller.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrNotEligible indicates the student is not enrolled in the assignment's class.
	ErrNotEligible = errors.New("student is not enrolled in the assignment class")
	// ErrNotPublished indicates the assignment is not open to students yet.
	ErrNotPublished = errors.New("assignment is not published")
	// ErrAssignmentClosed indicates the assignment no longer accepts attempts.
	ErrAssignmentClosed = errors.New("assignment is closed")
	// ErrInvalidState indicates the submission is not in a status that allows the operation.
	ErrInvalidState = errors.New("submission is not in a valid state for this operation")
	// ErrAlreadyFinalized indicates another finalize already moved the submission out of in_progress.
	ErrAlreadyFinalized = errors.New("submission already finalized")
	// ErrScoreExceedsMax indicates a manual score above the assignment's max score.
	ErrScoreExceedsMax = errors.New("score exceeds assignment max score")
	// ErrConflict indicates the submission changed between read and write.
	ErrConflict = errors.New("submission was modified concurrently")
	// ErrUnsupportedLanguage indicates a code submission in a language the sandbox cannot run.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrSandboxUnavailable indicates the code runner could not serve an ad-hoc execution.
	ErrSandboxUnavailable = errors.New("code sandbox unavailable")
	// ErrRealtimeUnavailable indicates no dispatcher is configured for live delivery.
	ErrRealtimeUnavailable = errors.New("realtime delivery unavailable")
	// ErrEmptyMessage indicates a message that is empty once markup is stripped.
	ErrEmptyMessage = errors.New("message is empty after sanitization")
	// ErrWrongQuestionType indicates the operation does not apply to the question's type.
	ErrWrongQuestionType = errors.New("operation does not match question type")
	// ErrInvalidCanvas indicates canvas data that does not match the drawing schema.
	ErrInvalidCanvas = errors.New("invalid canvas data")
	// ErrInvalidPreview indicates a preview upload that is not a PNG image.
	ErrInvalidPreview = errors.New("preview must be a png image")
	// ErrInvalidXPCredit indicates a credit that violates ledger rules.
	ErrInvalidXPCredit = errors.New("invalid xp credit")
)

// Role names carried in JWT claims.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Actor identifies the authenticated caller of a service operation.
type Actor struct {
	ID   uint
	Role string
}

// IsStaff reports whether the actor may read and grade any student's work.
func (a Actor) IsStaff() bool {
	return a.Role == RoleTeacher || a.Role == RoleAdmin
}

func (a Actor) canView(studentID uint) bool {
	return a.IsStaff() || a.ID == studentID
}
