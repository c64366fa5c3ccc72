package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func validCanvas() json.RawMessage {
	return json.RawMessage(`{"width":16,"height":16,"pixels":[{"x":0,"y":0,"color":"#00ff00"},{"x":1,"y":0,"color":"#000000"}]}`)
}

func intPtr(v int) *int { return &v }

func TestSubmitDesignValidatesCanvasAndPreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	submission := env.start(t)

	_, err := env.design.Submit(ctx, student(), submission.ID, dto.DesignSubmitRequest{
		QuestionID: env.fixture.design.ID,
		CanvasData: json.RawMessage(`{"width":0,"pixels":[]}`),
	})
	require.ErrorIs(t, err, ErrInvalidCanvas)

	_, err = env.design.Submit(ctx, student(), submission.ID, dto.DesignSubmitRequest{
		QuestionID: env.fixture.design.ID,
		CanvasData: validCanvas(),
		PreviewPNG: []byte("GIF89a not a png"),
	})
	require.ErrorIs(t, err, ErrInvalidPreview)

	_, err = env.design.Submit(ctx, student(), submission.ID, dto.DesignSubmitRequest{
		QuestionID: env.fixture.open.ID,
		CanvasData: validCanvas(),
	})
	require.ErrorIs(t, err, ErrWrongQuestionType)

	artifact, err := env.design.Submit(ctx, student(), submission.ID, dto.DesignSubmitRequest{
		QuestionID: env.fixture.design.ID,
		CanvasData: validCanvas(),
		PreviewPNG: pngHeader,
	})
	require.NoError(t, err)
	require.Equal(t, 10.0, artifact.Points)
	require.Contains(t, artifact.PreviewURL, "submission-")
	require.Len(t, env.uploader.keys, 1)

	resubmitted, err := env.design.Submit(ctx, student(), submission.ID, dto.DesignSubmitRequest{
		QuestionID: env.fixture.design.ID,
		CanvasData: validCanvas(),
	})
	require.NoError(t, err)
	require.Equal(t, artifact.ID, resubmitted.ID)

	var answers []models.SubmissionAnswer
	require.NoError(t, env.db.Where("submission_id = ? AND question_id = ?", submission.ID, env.fixture.design.ID).Find(&answers).Error)
	require.Len(t, answers, 1)
	require.Nil(t, answers[0].IsCorrect)
}

func TestRateDesignGradesSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	submission := env.start(t)
	env.answer(t, submission.ID, env.fixture.mc, "B", "")

	artifact, err := env.design.Submit(ctx, student(), submission.ID, dto.DesignSubmitRequest{
		QuestionID: env.fixture.design.ID,
		CanvasData: validCanvas(),
	})
	require.NoError(t, err)

	_, err = env.design.Rate(ctx, teacher(), artifact.ID, dto.DesignRateRequest{Rating: intPtr(80)})
	require.ErrorIs(t, err, ErrInvalidState)

	finalized, err := env.submissions.Finalize(ctx, student(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, 40.0, finalized.Score)

	rated, err := env.design.Rate(ctx, teacher(), artifact.ID, dto.DesignRateRequest{Rating: intPtr(80), Comment: "<i>Nice</i> colours"})
	require.NoError(t, err)
	require.Equal(t, 80, *rated.Artifact.TeacherRating)
	require.Equal(t, "Nice colours", rated.Artifact.TeacherComment)
	require.Equal(t, models.SubmissionStatusGraded, rated.Submission.Status)
	require.InDelta(t, 48.0, *rated.Submission.Score, 0.0001)
	require.Equal(t, 96, rated.Submission.XPEarned)

	env.runner.Wait()
	require.Equal(t, 96, env.ledgerInvariant(t, testStudentID).TotalXP)

	retuned, err := env.design.Rate(ctx, teacher(), artifact.ID, dto.DesignRateRequest{Rating: intPtr(100)})
	require.NoError(t, err)
	require.InDelta(t, 50.0, *retuned.Submission.Score, 0.0001)

	env.runner.Wait()
	require.Equal(t, 100, env.ledgerInvariant(t, testStudentID).TotalXP)

	_, err = env.design.Rate(ctx, teacher(), 9999, dto.DesignRateRequest{Rating: intPtr(10)})
	require.ErrorIs(t, err, ErrArtifactNotFound)
}
