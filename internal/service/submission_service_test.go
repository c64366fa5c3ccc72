package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

func TestStartOrGetCreatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := dto.StartSubmissionRequest{AssignmentID: env.fixture.assignment.ID}

	first, err := env.submissions.StartOrGet(ctx, student(), req)
	require.NoError(t, err)
	require.False(t, first.AlreadyExisted)
	require.Equal(t, models.SubmissionStatusInProgress, first.Submission.Status)

	second, err := env.submissions.StartOrGet(ctx, student(), req)
	require.NoError(t, err)
	require.True(t, second.AlreadyExisted)
	require.Equal(t, first.Submission.ID, second.Submission.ID)

	var count int64
	require.NoError(t, env.db.Model(&models.Submission{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestStartOrGetConcurrentStartsConverge(t *testing.T) {
	env := newTestEnv(t)
	req := dto.StartSubmissionRequest{AssignmentID: env.fixture.assignment.ID}

	var wg sync.WaitGroup
	ids := make([]uint, 6)
	errs := make([]error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.submissions.StartOrGet(context.Background(), student(), req)
			ids[i], errs[i] = res.Submission.ID, err
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], id)
	}
}

func TestStartOrGetRejectsIneligibleAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assignmentID := env.fixture.assignment.ID

	_, err := env.submissions.StartOrGet(ctx, student(), dto.StartSubmissionRequest{AssignmentID: 9999})
	require.ErrorIs(t, err, ErrAssignmentNotFound)

	_, err = env.submissions.StartOrGet(ctx, Actor{ID: 55, Role: RoleStudent}, dto.StartSubmissionRequest{AssignmentID: assignmentID})
	require.ErrorIs(t, err, ErrNotEligible)

	require.NoError(t, env.db.Model(&models.Assignment{}).Where("id = ?", assignmentID).Update("status", models.AssignmentStatusDraft).Error)
	_, err = env.submissions.StartOrGet(ctx, student(), dto.StartSubmissionRequest{AssignmentID: assignmentID})
	require.ErrorIs(t, err, ErrNotPublished)

	require.NoError(t, env.db.Model(&models.Assignment{}).Where("id = ?", assignmentID).Update("status", models.AssignmentStatusClosed).Error)
	_, err = env.submissions.StartOrGet(ctx, student(), dto.StartSubmissionRequest{AssignmentID: assignmentID})
	require.ErrorIs(t, err, ErrAssignmentClosed)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.db.Model(&models.Assignment{}).Where("id = ?", assignmentID).Updates(map[string]interface{}{
		"status":  models.AssignmentStatusPublished,
		"ends_at": past,
	}).Error)
	_, err = env.submissions.StartOrGet(ctx, student(), dto.StartSubmissionRequest{AssignmentID: assignmentID})
	require.ErrorIs(t, err, ErrAssignmentClosed)
}

func TestRecordAnswerGradesObjectiveQuestions(t *testing.T) {
	env := newTestEnv(t)
	submission := env.start(t)

	wrong := env.answer(t, submission.ID, env.fixture.mc, "a", "")
	require.NotNil(t, wrong.IsCorrect)
	require.False(t, *wrong.IsCorrect)
	require.Zero(t, wrong.ScoreEarned)
	require.NotNil(t, wrong.CorrectOption)
	require.Equal(t, "B", wrong.CorrectOption.Letter)
	require.Equal(t, "five", wrong.CorrectOption.Content)
	require.Equal(t, "B is the only prime", wrong.Explanation)

	right := env.answer(t, submission.ID, env.fixture.mc, " b ", "")
	require.True(t, *right.IsCorrect)
	require.Equal(t, 40.0, right.ScoreEarned)
	require.Nil(t, right.CorrectOption)

	open := env.answer(t, submission.ID, env.fixture.open, "", "They pass values between goroutines")
	require.Nil(t, open.IsCorrect)
	require.True(t, open.Deferred)
	require.Zero(t, open.ScoreEarned)

	detail, err := env.submissions.Get(context.Background(), student(), submission.ID)
	require.NoError(t, err)
	require.Len(t, detail.Answers, 2)
	require.Equal(t, "B", *detail.Answers[0].SelectedOption)
	require.Equal(t, 40.0, detail.Answers[0].ScoreEarned)
}

func TestRecordAnswerValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	submission := env.start(t)

	_, err := env.submissions.RecordAnswer(ctx, Actor{ID: 55, Role: RoleStudent}, submission.ID, dto.RecordAnswerRequest{QuestionID: env.fixture.mc.ID, SelectedOption: "B"})
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	_, err = env.submissions.RecordAnswer(ctx, student(), submission.ID, dto.RecordAnswerRequest{QuestionID: 9999, SelectedOption: "B"})
	require.ErrorIs(t, err, ErrQuestionNotFound)

	_, err = env.submissions.Finalize(ctx, student(), submission.ID)
	require.NoError(t, err)

	_, err = env.submissions.RecordAnswer(ctx, student(), submission.ID, dto.RecordAnswerRequest{QuestionID: env.fixture.mc.ID, SelectedOption: "B"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestFinalizeAggregatesScoreAndCreditsXP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	submission := env.start(t)

	events, cancel := env.dispatcher.Subscribe(testStudentID)
	defer cancel()

	env.answer(t, submission.ID, env.fixture.mc, "B", "")
	env.answer(t, submission.ID, env.fixture.tf, "F", "")
	env.answer(t, submission.ID, env.fixture.open, "", "essay")

	result, err := env.submissions.Finalize(ctx, student(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusSubmitted, result.Submission.Status)
	require.Equal(t, 40.0, result.Score)
	require.InDelta(t, 40.0, result.Percent, 0.001)
	require.Equal(t, 80, result.XPEarned)
	require.Equal(t, 80, result.TotalXP)
	require.Equal(t, 1, result.Level)
	require.False(t, result.LeveledUp)

	event := receiveEvent(t, events, dto.EventSubmissionFinalized)
	payload, ok := event.Payload.(dto.FinalizeResponse)
	require.True(t, ok)
	require.Equal(t, submission.ID, payload.Submission.ID)

	env.runner.Wait()
	xp := env.ledgerInvariant(t, testStudentID)
	require.Equal(t, 80, xp.TotalXP)

	var entries []models.XPTransaction
	require.NoError(t, env.db.Where("student_id = ?", testStudentID).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, models.XPSourceSubmission, entries[0].SourceKind)
	require.Equal(t, env.fixture.assignment.ID, *entries[0].SourceID)

	period, year := models.PeriodFor(gradebookClock)
	grade, err := repository.NewGradeRepository(env.db).Find(ctx, testStudentID, 1, 2, period, year)
	require.NoError(t, err)
	require.Equal(t, 40.0, grade.Grade)
}

func TestFinalizeIsExactlyOnceUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	submission := env.start(t)
	env.answer(t, submission.ID, env.fixture.mc, "B", "")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.submissions.Finalize(context.Background(), student(), submission.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyFinalized):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, attempts-1, rejected)

	env.runner.Wait()
	xp := env.ledgerInvariant(t, testStudentID)
	require.Equal(t, 80, xp.TotalXP)

	var ledgerRows int64
	require.NoError(t, env.db.Model(&models.XPTransaction{}).Count(&ledgerRows).Error)
	require.EqualValues(t, 1, ledgerRows)
}

func TestFinalizeAfterDeadlineIsLate(t *testing.T) {
	env := newTestEnv(t)
	submission := env.start(t)

	endsAt := time.Now().UTC().Add(time.Hour)
	require.NoError(t, env.db.Model(&models.Assignment{}).Where("id = ?", env.fixture.assignment.ID).Update("ends_at", endsAt).Error)

	svc := env.submissions.(*submissionService)
	svc.now = func() time.Time { return endsAt.Add(time.Minute) }

	result, err := env.submissions.Finalize(context.Background(), student(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusLate, result.Submission.Status)
	require.Zero(t, result.Score)
	require.Zero(t, result.XPEarned)
}

func TestFinalizeLevelUpPushesEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.db.Model(&models.Assignment{}).Where("id = ?", env.fixture.assignment.ID).Update("xp_reward", 2500).Error)

	events, cancel := env.dispatcher.Subscribe(testStudentID)
	defer cancel()

	submission := env.start(t)
	env.answer(t, submission.ID, env.fixture.mc, "B", "")
	env.answer(t, submission.ID, env.fixture.tf, "T", "")

	result, err := env.submissions.Finalize(ctx, student(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, 1500, result.XPEarned)
	require.Equal(t, 2, result.Level)
	require.True(t, result.LeveledUp)

	event := receiveEvent(t, events, dto.EventLevelUp)
	payload, ok := event.Payload.(LevelUpPayload)
	require.True(t, ok)
	require.Equal(t, 2, payload.Level)
}

func TestFinalizeSucceedsWhenPostCommitHooksFail(t *testing.T) {
	env := newTestEnv(t, func(h *Hooks) { h.Gradebook = failingGradebook{} })
	submission := env.start(t)
	env.answer(t, submission.ID, env.fixture.mc, "B", "")

	result, err := env.submissions.Finalize(context.Background(), student(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusSubmitted, result.Submission.Status)

	env.runner.Wait()
	var grades int64
	require.NoError(t, env.db.Model(&models.PeriodGrade{}).Count(&grades).Error)
	require.Zero(t, grades)
}

func TestGradeCreditsOnlyTheDelta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	submission := env.start(t)
	env.answer(t, submission.ID, env.fixture.mc, "B", "")
	env.answer(t, submission.ID, env.fixture.open, "", "essay")

	_, err := env.submissions.Finalize(ctx, student(), submission.ID)
	require.NoError(t, err)

	graded, err := env.submissions.Grade(ctx, teacher(), submission.ID, dto.GradeSubmissionRequest{Score: 60, Feedback: "<b>Good</b> work"})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, graded.Status)
	require.Equal(t, 60.0, *graded.Score)
	require.Equal(t, 120, graded.XPEarned)
	require.Equal(t, "Good work", graded.Feedback)
	require.Equal(t, testTeacherID, *graded.GradedBy)

	env.runner.Wait()
	require.Equal(t, 120, env.ledgerInvariant(t, testStudentID).TotalXP)

	regraded, err := env.submissions.Grade(ctx, teacher(), submission.ID, dto.GradeSubmissionRequest{Score: 50})
	require.NoError(t, err)
	require.Equal(t, 100, regraded.XPEarned)

	env.runner.Wait()
	require.Equal(t, 100, env.ledgerInvariant(t, testStudentID).TotalXP)

	var entries []models.XPTransaction
	require.NoError(t, env.db.Order("id ASC").Find(&entries).Error)
	require.Len(t, entries, 3)
	require.Equal(t, 80, entries[0].Amount)
	require.Equal(t, 40, entries[1].Amount)
	require.Equal(t, -20, entries[2].Amount)
	require.Equal(t, models.XPSourcePenalty, entries[2].SourceKind)

	history, err := repository.NewSubmissionRepository(env.db).ListHistory(ctx, submission.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 40, history[0].XPDelta)
	require.Equal(t, -20, history[1].XPDelta)

	var notifications []models.Notification
	require.NoError(t, env.db.Where("user_id = ?", testStudentID).Find(&notifications).Error)
	require.Len(t, notifications, 2)
}

func TestGradeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	submission := env.start(t)

	_, err := env.submissions.Grade(ctx, teacher(), submission.ID, dto.GradeSubmissionRequest{Score: 10})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = env.submissions.Finalize(ctx, student(), submission.ID)
	require.NoError(t, err)

	_, err = env.submissions.Grade(ctx, teacher(), submission.ID, dto.GradeSubmissionRequest{Score: 101})
	require.ErrorIs(t, err, ErrScoreExceedsMax)

	_, err = env.submissions.Grade(ctx, teacher(), 9999, dto.GradeSubmissionRequest{Score: 10})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestGradeWithStaleRevisionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	started := env.start(t)

	_, err := env.submissions.Finalize(ctx, student(), started.ID)
	require.NoError(t, err)

	svc := env.submissions.(*submissionService)
	stale, err := repository.NewSubmissionRepository(env.db).GetByID(ctx, started.ID)
	require.NoError(t, err)

	_, err = env.submissions.Grade(ctx, teacher(), started.ID, dto.GradeSubmissionRequest{Score: 30})
	require.NoError(t, err)

	_, err = svc.grader.apply(ctx, gradeCommand{
		submission: stale,
		graderID:   testTeacherID,
		at:         time.Now().UTC(),
		score:      func(context.Context, *gorm.DB) (float64, error) { return 90, nil },
	})
	require.ErrorIs(t, err, ErrConflict)

	env.runner.Wait()
	require.Equal(t, 60, env.ledgerInvariant(t, testStudentID).TotalXP)
}

func TestGetHidesOtherStudentsSubmissions(t *testing.T) {
	env := newTestEnv(t)
	submission := env.start(t)

	_, err := env.submissions.Get(context.Background(), Actor{ID: 55, Role: RoleStudent}, submission.ID)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	detail, err := env.submissions.Get(context.Background(), teacher(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, submission.ID, detail.ID)
}
