package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// CodeSubmitRequest submits source code for a code question.
type CodeSubmitRequest struct {
	QuestionID uint   `json:"question_id" validate:"required"`
	Language   string `json:"language" validate:"required,max=32"`
	SourceCode string `json:"source_code" validate:"required,max=65536"`
}

// CodeSubmitResponse identifies the queued artifact.
type CodeSubmitResponse struct {
	ArtifactID uint                   `json:"artifact_id"`
	State      models.EvaluationState `json:"state"`
}

// CodeExecuteRequest runs ad-hoc code outside any submission.
type CodeExecuteRequest struct {
	Language   string `json:"language" validate:"required,max=32"`
	SourceCode string `json:"source_code" validate:"required,max=65536"`
	Stdin      string `json:"stdin" validate:"max=65536"`
}

// CodeExecuteResponse is the raw outcome of an ad-hoc execution.
type CodeExecuteResponse struct {
	Language      string               `json:"language"`
	Output        string               `json:"output"`
	Stderr        string               `json:"stderr"`
	ExitCode      int                  `json:"exit_code"`
	TimeMs        int64                `json:"time_ms"`
	CompileStatus models.CompileStatus `json:"compile_status"`
	RunStatus     models.RunStatus     `json:"run_status"`
}

// CodeResultResponse exposes the evaluation outcome.
type CodeResultResponse struct {
	ArtifactID      uint                   `json:"artifact_id"`
	SubmissionID    uint                   `json:"submission_id"`
	QuestionID      uint                   `json:"question_id"`
	Language        string                 `json:"language"`
	State           models.EvaluationState `json:"state"`
	CompileStatus   models.CompileStatus   `json:"compile_status"`
	RunStatus       models.RunStatus       `json:"run_status"`
	ActualOutput    string                 `json:"actual_output"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	MemoryKB        int64                  `json:"memory_kb"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// NewCodeResultResponse maps an artifact to its result view.
func NewCodeResultResponse(artifact models.CodeArtifact) CodeResultResponse {
	return CodeResultResponse{
		ArtifactID:      artifact.ID,
		SubmissionID:    artifact.SubmissionID,
		QuestionID:      artifact.QuestionID,
		Language:        artifact.Language,
		State:           artifact.State,
		CompileStatus:   artifact.CompileStatus,
		RunStatus:       artifact.RunStatus,
		ActualOutput:    artifact.ActualOutput,
		ErrorMessage:    artifact.ErrorMessage,
		ExecutionTimeMs: artifact.ExecutionTimeMs,
		MemoryKB:        artifact.MemoryKB,
		CompletedAt:     artifact.CompletedAt,
	}
}
