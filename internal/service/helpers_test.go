package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-assessment-api/internal/database"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/pkg/sandbox"
)

const (
	testStudentID = uint(7)
	testTeacherID = uint(90)
)

var gradebookClock = time.Date(2025, time.May, 10, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type fixture struct {
	assignment models.Assignment
	mc         models.Question
	tf         models.Question
	open       models.Question
	code       models.Question
	design     models.Question
}

// seedFixture creates a published assignment worth 100 points and 200 XP:
// multiple choice 40 (B), true/false 20 (T), open 20, code 10 and design 10.
func seedFixture(t *testing.T, db *gorm.DB) fixture {
	t.Helper()

	f := fixture{
		assignment: models.Assignment{ClassID: 1, SubjectID: 2, TeacherID: testTeacherID, Title: "Unit test", Status: models.AssignmentStatusPublished, MaxScore: 100, XPReward: 200},
		mc: models.Question{Type: models.QuestionTypeMultipleChoice, Content: "Pick B", Points: 40, Explanation: "B is the only prime",
			Options: []models.QuestionOption{{Letter: "A", Content: "four"}, {Letter: "B", Content: "five", IsCorrect: true}}},
		tf: models.Question{Type: models.QuestionTypeTrueFalse, Content: "Go has goroutines", Points: 20,
			Options: []models.QuestionOption{{Letter: "T", Content: "true", IsCorrect: true}, {Letter: "F", Content: "false"}}},
		open:   models.Question{Type: models.QuestionTypeOpen, Content: "Explain channels", Points: 20},
		code:   models.Question{Type: models.QuestionTypeCode, Content: "Print hello", Points: 10, ExpectedOutput: "hello"},
		design: models.Question{Type: models.QuestionTypeDesign, Content: "Draw a creeper", Points: 10},
	}

	require.NoError(t, db.Create(&f.assignment).Error)
	for i, q := range []*models.Question{&f.mc, &f.tf, &f.open, &f.code, &f.design} {
		require.NoError(t, db.Create(q).Error)
		require.NoError(t, db.Create(&models.AssignmentQuestion{AssignmentID: f.assignment.ID, QuestionID: q.ID, OrderIndex: i}).Error)
	}
	require.NoError(t, db.Create(&models.ClassEnrollment{ClassID: f.assignment.ClassID, StudentID: testStudentID}).Error)

	return f
}

type stubSandbox struct {
	mu     sync.Mutex
	result sandbox.Result
	err    error
	calls  int
}

func (s *stubSandbox) Execute(_ context.Context, _ sandbox.Request) (sandbox.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

type stubUploader struct {
	keys []string
	err  error
}

func (s *stubUploader) UploadPreview(_ context.Context, key string, _ []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "https://cdn.example.com/" + key + ".png", nil
}

type failingGradebook struct{}

func (failingGradebook) UpdateAverage(context.Context, uint, uint, uint) error {
	return fmt.Errorf("gradebook offline")
}

type testEnv struct {
	db          *gorm.DB
	fixture     fixture
	runner      *AsyncRunner
	dispatcher  NotificationDispatcher
	ledger      XPLedgerService
	leaderboard LeaderboardService
	submissions SubmissionService
	code        CodeEvaluationService
	design      DesignService
	sandbox     *stubSandbox
	uploader    *stubUploader
}

type envOption func(*Hooks)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db := openTestDB(t)
	log := zerolog.Nop()
	validate := validator.New()

	transactor := repository.NewTransactor(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	xpRepo := repository.NewXPRepository(db)

	runner := NewAsyncRunner(5*time.Second, log)
	dispatcher := NewNotificationDispatcher(nil, nil, "", log)
	leaderboard := NewLeaderboardService(xpRepo, nil, log)
	ledger := NewXPLedgerService(xpRepo, leaderboard, runner, validate, log)

	hooks := Hooks{
		Runner:        runner,
		Dispatcher:    dispatcher,
		Notifications: NewNotificationService(repository.NewNotificationRepository(db), dispatcher, validate, log),
		Gradebook:     NewGradebookService(repository.NewGradeRepository(db), func() time.Time { return gradebookClock }, log),
		Leaderboard:   leaderboard,
	}
	for _, opt := range opts {
		opt(&hooks)
	}

	stub := &stubSandbox{result: sandbox.Result{Stdout: "hello\n", ExecutionTime: 42 * time.Millisecond}}
	uploader := &stubUploader{}

	env := &testEnv{
		db:          db,
		fixture:     seedFixture(t, db),
		runner:      runner,
		dispatcher:  dispatcher,
		ledger:      ledger,
		leaderboard: leaderboard,
		submissions: NewSubmissionService(transactor, assignmentRepo, repository.NewRosterRepository(db), submissionRepo, ledger, hooks, validate, log),
		code: NewCodeEvaluationService(transactor, assignmentRepo, submissionRepo, repository.NewCodeArtifactRepository(db), stub, hooks,
			CodeEvaluationConfig{Workers: 1, QueueSize: 4, SweepInterval: time.Hour}, validate, log),
		design:   NewDesignService(transactor, assignmentRepo, submissionRepo, repository.NewDesignArtifactRepository(db), ledger, uploader, hooks, validate, log),
		sandbox:  stub,
		uploader: uploader,
	}
	t.Cleanup(runner.Wait)
	return env
}

func student() Actor { return Actor{ID: testStudentID, Role: RoleStudent} }

func teacher() Actor { return Actor{ID: testTeacherID, Role: RoleTeacher} }

func (e *testEnv) start(t *testing.T) dto.SubmissionResponse {
	t.Helper()
	started, err := e.submissions.StartOrGet(context.Background(), student(), dto.StartSubmissionRequest{AssignmentID: e.fixture.assignment.ID})
	require.NoError(t, err)
	return started.Submission
}

func (e *testEnv) answer(t *testing.T, submissionID uint, question models.Question, selected, text string) dto.AnswerResultResponse {
	t.Helper()
	result, err := e.submissions.RecordAnswer(context.Background(), student(), submissionID, dto.RecordAnswerRequest{
		QuestionID:     question.ID,
		SelectedOption: selected,
		AnswerText:     text,
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) ledgerInvariant(t *testing.T, studentID uint) models.StudentXP {
	t.Helper()
	repo := repository.NewXPRepository(e.db)
	xp, err := repo.Get(context.Background(), studentID)
	require.NoError(t, err)
	sum, err := repo.LedgerSum(context.Background(), studentID)
	require.NoError(t, err)
	require.Equal(t, sum, xp.TotalXP)
	require.Equal(t, models.LevelFor(xp.TotalXP), xp.Level)
	return xp
}

func receiveEvent(t *testing.T, events <-chan dto.RealtimeEvent, eventType string) dto.RealtimeEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-events:
			require.True(t, ok, "event channel closed before %s", eventType)
			if event.Type == eventType {
				return event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}
