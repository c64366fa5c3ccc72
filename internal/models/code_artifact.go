package models

import "time"

// EvaluationState tracks where a code artifact is in the sandbox pipeline.
type EvaluationState string

const (
	EvaluationStatePending    EvaluationState = "pending"
	EvaluationStateDispatched EvaluationState = "dispatched"
	EvaluationStateCompleted  EvaluationState = "completed"
)

// CompileStatus is the outcome of the compile phase.
type CompileStatus string

const (
	CompileStatusPending CompileStatus = "pending"
	CompileStatusSuccess CompileStatus = "success"
	CompileStatusError   CompileStatus = "error"
	CompileStatusTimeout CompileStatus = "timeout"
)

// RunStatus is the outcome of the run phase.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusSuccess     RunStatus = "success"
	RunStatusError       RunStatus = "error"
	RunStatusTimeout     RunStatus = "timeout"
	RunStatusWrongAnswer RunStatus = "wrong_answer"
)

// CodeArtifact is one code submission for a code question. Only the newest
// artifact of a (submission, question) pair is reconciled into the answer.
type CodeArtifact struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SubmissionID    uint            `gorm:"not null;index:idx_code_artifact_answer" json:"submission_id"`
	QuestionID      uint            `gorm:"not null;index:idx_code_artifact_answer" json:"question_id"`
	StudentID       uint            `gorm:"not null;index" json:"student_id"`
	Language        string          `gorm:"size:32;not null" json:"language"`
	SourceCode      string          `gorm:"type:text;not null" json:"source_code"`
	Stdin           string          `gorm:"type:text" json:"stdin"`
	ExpectedOutput  string          `gorm:"type:text" json:"expected_output"`
	ActualOutput    string          `gorm:"type:text" json:"actual_output"`
	ErrorMessage    string          `gorm:"type:text" json:"error_message"`
	ExecutionTimeMs int64           `gorm:"not null;default:0" json:"execution_time_ms"`
	MemoryKB        int64           `gorm:"column:memory_kb;not null;default:0" json:"memory_kb"`
	Points          float64         `gorm:"not null;default:0" json:"points"`
	State           EvaluationState `gorm:"size:16;not null;default:pending;index" json:"state"`
	CompileStatus   CompileStatus   `gorm:"size:16;not null;default:pending" json:"compile_status"`
	RunStatus       RunStatus       `gorm:"size:16;not null;default:pending" json:"run_status"`
	DispatchedAt    *time.Time      `json:"dispatched_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Passed reports whether the artifact earned the question's points.
func (a CodeArtifact) Passed() bool {
	return a.State == EvaluationStateCompleted && a.RunStatus == RunStatusSuccess
}
