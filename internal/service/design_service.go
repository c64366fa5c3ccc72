package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/grading"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/pkg/cloudinary"
)

const maxPreviewBytes = 2 << 20

// canvasSchema describes a pixel-art drawing.
const canvasSchema = `{
  "type": "object",
  "required": ["width", "height", "pixels"],
  "properties": {
    "width": {"type": "integer", "minimum": 1, "maximum": 256},
    "height": {"type": "integer", "minimum": 1, "maximum": 256},
    "palette": {
      "type": "array",
      "items": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"}
    },
    "pixels": {
      "type": "array",
      "maxItems": 65536,
      "items": {
        "type": "object",
        "required": ["x", "y", "color"],
        "properties": {
          "x": {"type": "integer", "minimum": 0},
          "y": {"type": "integer", "minimum": 0},
          "color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"}
        }
      }
    }
  }
}`

// PreviewUploader stores a PNG preview and returns its public URL.
type PreviewUploader interface {
	UploadPreview(ctx context.Context, key string, data []byte) (string, error)
}

// DesignService stores drawings for design questions and grades them from teacher ratings.
type DesignService interface {
	Submit(ctx context.Context, actor Actor, submissionID uint, req dto.DesignSubmitRequest) (dto.DesignArtifactResponse, error)
	Rate(ctx context.Context, actor Actor, artifactID uint, req dto.DesignRateRequest) (dto.DesignRateResponse, error)
}

type designService struct {
	transactor  repository.Transactor
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	designs     repository.DesignArtifactRepository
	uploader    PreviewUploader
	hooks       Hooks
	grader      *gradingFlow
	schema      *jsonschema.Schema
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewDesignService constructs the design grading service. uploader may be nil, in
// which case previews are validated but not stored.
func NewDesignService(
	transactor repository.Transactor,
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	designs repository.DesignArtifactRepository,
	ledger XPLedgerService,
	uploader PreviewUploader,
	hooks Hooks,
	validate *validator.Validate,
	logger zerolog.Logger,
) DesignService {
	log := logger.With().Str("component", "design_service").Logger()

	return &designService{
		transactor:  transactor,
		assignments: assignments,
		submissions: submissions,
		designs:     designs,
		uploader:    uploader,
		hooks:       hooks.withDefaults(logger),
		grader: &gradingFlow{
			transactor:  transactor,
			submissions: submissions,
			ledger:      ledger,
			tracer:      otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/design"),
			logger:      log,
		},
		schema:    jsonschema.MustCompileString("canvas.json", canvasSchema),
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *designService) Submit(ctx context.Context, actor Actor, submissionID uint, req dto.DesignSubmitRequest) (dto.DesignArtifactResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.DesignArtifactResponse{}, err
	}

	submission, err := loadOwnedSubmission(ctx, s.submissions, actor, submissionID)
	if err != nil {
		return dto.DesignArtifactResponse{}, err
	}
	if !submission.IsOpen() {
		return dto.DesignArtifactResponse{}, ErrInvalidState
	}

	link, err := findAssignmentQuestion(ctx, s.assignments, submission.AssignmentID, req.QuestionID)
	if err != nil {
		return dto.DesignArtifactResponse{}, err
	}
	if link.Question.Type != models.QuestionTypeDesign {
		return dto.DesignArtifactResponse{}, ErrWrongQuestionType
	}

	if err := s.validateCanvas(req.CanvasData); err != nil {
		return dto.DesignArtifactResponse{}, err
	}

	previewURL, err := s.storePreview(ctx, submission.ID, link.QuestionID, req.PreviewPNG)
	if err != nil {
		return dto.DesignArtifactResponse{}, err
	}

	now := s.now()
	artifact := models.DesignArtifact{
		SubmissionID: submission.ID,
		QuestionID:   link.QuestionID,
		StudentID:    submission.StudentID,
		CanvasData:   datatypes.JSON(req.CanvasData),
		PreviewURL:   previewURL,
		Points:       grading.EffectivePoints(link.Question.Points, link.PointsOverride),
		UpdatedAt:    now,
	}

	err = s.transactor.InTx(ctx, func(tx *gorm.DB) error {
		submissions := s.submissions.WithTx(tx)
		if err := submissions.TouchOpen(ctx, submission.ID, now); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return ErrInvalidState
			}
			return err
		}
		if err := s.designs.WithTx(tx).Upsert(ctx, &artifact); err != nil {
			return fmt.Errorf("upsert design artifact: %w", err)
		}
		return submissions.UpsertAnswer(ctx, &models.SubmissionAnswer{
			SubmissionID: submission.ID,
			QuestionID:   link.QuestionID,
			AnsweredAt:   now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return dto.DesignArtifactResponse{}, err
	}

	return dto.NewDesignArtifactResponse(artifact), nil
}

// Rate records the teacher's rating and regrades the submission from its objective
// answer scores plus every rated drawing.
func (s *designService) Rate(ctx context.Context, actor Actor, artifactID uint, req dto.DesignRateRequest) (dto.DesignRateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.DesignRateResponse{}, err
	}

	artifact, err := s.designs.GetByID(ctx, artifactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.DesignRateResponse{}, ErrArtifactNotFound
		}
		return dto.DesignRateResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, artifact.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.DesignRateResponse{}, ErrSubmissionNotFound
		}
		return dto.DesignRateResponse{}, err
	}
	if submission.IsOpen() {
		return dto.DesignRateResponse{}, ErrInvalidState
	}

	rating := *req.Rating
	comment := strings.TrimSpace(s.sanitizer.Sanitize(req.Comment))
	now := s.now()

	outcome, err := s.grader.apply(ctx, gradeCommand{
		submission:     submission,
		graderID:       actor.ID,
		feedback:       submission.Feedback,
		historyComment: comment,
		at:             now,
		prepare: func(ctx context.Context, tx *gorm.DB) error {
			return s.designs.WithTx(tx).Rate(ctx, artifact.ID, rating, comment, actor.ID, now)
		},
		score: func(ctx context.Context, tx *gorm.DB) (float64, error) {
			objective, err := s.submissions.WithTx(tx).SumAnswerScores(ctx, submission.ID)
			if err != nil {
				return 0, err
			}
			rated, err := s.designs.WithTx(tx).SumRatedScores(ctx, submission.ID)
			if err != nil {
				return 0, err
			}
			return objective + rated, nil
		},
	})
	if err != nil {
		return dto.DesignRateResponse{}, err
	}

	s.hooks.afterGrade(ctx, outcome.submission, outcome)

	rated, err := s.designs.GetByID(ctx, artifact.ID)
	if err != nil {
		return dto.DesignRateResponse{}, err
	}

	return dto.DesignRateResponse{
		Artifact:   dto.NewDesignArtifactResponse(rated),
		Submission: dto.NewSubmissionResponse(outcome.submission),
	}, nil
}

func (s *designService) validateCanvas(raw json.RawMessage) error {
	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCanvas, err)
	}
	if err := s.schema.Validate(document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCanvas, err)
	}
	return nil
}

func (s *designService) storePreview(ctx context.Context, submissionID, questionID uint, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if len(data) > maxPreviewBytes || !mimetype.Detect(data).Is("image/png") {
		return "", ErrInvalidPreview
	}
	if s.uploader == nil {
		return "", nil
	}

	url, err := s.uploader.UploadPreview(ctx, cloudinary.PreviewKey(submissionID, questionID), data)
	if err != nil {
		// The drawing is the graded artifact; a missing preview only affects display.
		s.logger.Warn().Err(err).Uint("submission_id", submissionID).Uint("question_id", questionID).Msg("failed to upload design preview")
		return "", nil
	}
	return url, nil
}
