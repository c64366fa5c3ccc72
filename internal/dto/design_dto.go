package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// DesignSubmitRequest stores a drawing for a design question.
type DesignSubmitRequest struct {
	QuestionID uint            `json:"question_id" validate:"required"`
	CanvasData json.RawMessage `json:"canvas_data" validate:"required"`
	PreviewPNG []byte          `json:"preview_png,omitempty"`
}

// DesignRateRequest is a teacher's rating of a drawing.
type DesignRateRequest struct {
	Rating  *int   `json:"rating" validate:"required,gte=0,lte=100"`
	Comment string `json:"comment" validate:"omitempty,max=5000"`
}

// DesignArtifactResponse is the public view of a drawing.
type DesignArtifactResponse struct {
	ID             uint            `json:"id"`
	SubmissionID   uint            `json:"submission_id"`
	QuestionID     uint            `json:"question_id"`
	CanvasData     json.RawMessage `json:"canvas_data"`
	PreviewURL     string          `json:"preview_url,omitempty"`
	Points         float64         `json:"points"`
	TeacherRating  *int            `json:"teacher_rating"`
	TeacherComment string          `json:"teacher_comment,omitempty"`
	RatedAt        *time.Time      `json:"rated_at,omitempty"`
}

// DesignRateResponse pairs the rated artifact with the regraded submission.
type DesignRateResponse struct {
	Artifact   DesignArtifactResponse `json:"artifact"`
	Submission SubmissionResponse     `json:"submission"`
}

// NewDesignArtifactResponse maps a model to its response.
func NewDesignArtifactResponse(artifact models.DesignArtifact) DesignArtifactResponse {
	return DesignArtifactResponse{
		ID:             artifact.ID,
		SubmissionID:   artifact.SubmissionID,
		QuestionID:     artifact.QuestionID,
		CanvasData:     json.RawMessage(artifact.CanvasData),
		PreviewURL:     artifact.PreviewURL,
		Points:         artifact.Points,
		TeacherRating:  artifact.TeacherRating,
		TeacherComment: artifact.TeacherComment,
		RatedAt:        artifact.RatedAt,
	}
}
