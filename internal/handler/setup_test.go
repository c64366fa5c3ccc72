package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/database"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/router"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/pkg/sandbox"
)

const (
	jwtSecret   = "handler-test-secret"
	studentID   = uint(7)
	otherID     = uint(8)
	teacherID   = uint(90)
	submitLimit = 3
)

type envelope[T any] struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    T                 `json:"data"`
	Details map[string]string `json:"details"`
}

type echoSandbox struct{}

func (echoSandbox) Execute(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
	return sandbox.Result{Stdout: "hello\n", ExecutionTime: 12 * time.Millisecond}, nil
}

type apiFixture struct {
	assignment models.Assignment
	mc         models.Question
	open       models.Question
	code       models.Question
	design     models.Question
}

type testServer struct {
	app        *fiber.App
	db         *gorm.DB
	fixture    apiFixture
	dispatcher service.NotificationDispatcher
}

func newTestServer(t *testing.T) *testServer {
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

	fixture := seedAPIFixture(t, db)

	log := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	transactor := repository.NewTransactor(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	xpRepo := repository.NewXPRepository(db)

	runner := service.NewAsyncRunner(5*time.Second, log)
	dispatcher := service.NewNotificationDispatcher(nil, nil, "", log)
	leaderboard := service.NewLeaderboardService(xpRepo, nil, log)
	ledger := service.NewXPLedgerService(xpRepo, leaderboard, runner, validate, log)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), dispatcher, validate, log)
	hooks := service.Hooks{
		Runner:        runner,
		Dispatcher:    dispatcher,
		Notifications: notifications,
		Gradebook:     service.NewGradebookService(repository.NewGradeRepository(db), nil, log),
		Leaderboard:   leaderboard,
	}

	submissions := service.NewSubmissionService(transactor, assignmentRepo, repository.NewRosterRepository(db), submissionRepo, ledger, hooks, validate, log)
	code := service.NewCodeEvaluationService(transactor, assignmentRepo, submissionRepo, repository.NewCodeArtifactRepository(db), echoSandbox{}, hooks,
		service.CodeEvaluationConfig{Workers: 1, QueueSize: 8, SweepInterval: time.Hour}, validate, log)
	design := service.NewDesignService(transactor, assignmentRepo, submissionRepo, repository.NewDesignArtifactRepository(db), ledger, nil, hooks, validate, log)

	ctx, cancel := context.WithCancel(context.Background())
	code.Start(ctx)
	t.Cleanup(func() {
		cancel()
		code.Wait()
		runner.Wait()
	})

	app := fiber.New()
	middleware.Register(app, middleware.Config{})
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test"}, router.Dependencies{
		SubmissionHandler:   handler.NewSubmissionHandler(submissions, log),
		CodeHandler:         handler.NewCodeHandler(code, log),
		DesignHandler:       handler.NewDesignHandler(design, log),
		XPHandler:           handler.NewXPHandler(ledger, leaderboard, log),
		NotificationHandler: handler.NewNotificationHandler(notifications, dispatcher, log, time.Second),
		RealtimeHandler:     handler.NewRealtimeHandler(dispatcher, jwtSecret, log),
		HealthProbes: map[string]handler.HealthProbe{
			"database": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
		},
		JWTMiddleware:     middleware.JWTProtected(jwtSecret),
		CodeSubmitLimiter: middleware.RateLimit("code_submit", submitLimit, time.Minute),
	})

	return &testServer{app: app, db: db, fixture: fixture, dispatcher: dispatcher}
}

func seedAPIFixture(t *testing.T, db *gorm.DB) apiFixture {
	t.Helper()

	f := apiFixture{
		assignment: models.Assignment{ClassID: 1, SubjectID: 2, TeacherID: teacherID, Title: "HTTP quiz", Status: models.AssignmentStatusPublished, MaxScore: 100, XPReward: 100},
		mc: models.Question{Type: models.QuestionTypeMultipleChoice, Content: "Pick B", Points: 40,
			Options: []models.QuestionOption{{Letter: "A", Content: "no"}, {Letter: "B", Content: "yes", IsCorrect: true}}},
		open:   models.Question{Type: models.QuestionTypeOpen, Content: "Explain", Points: 40},
		code:   models.Question{Type: models.QuestionTypeCode, Content: "Print hello", Points: 10, ExpectedOutput: "hello"},
		design: models.Question{Type: models.QuestionTypeDesign, Content: "Draw", Points: 10},
	}

	require.NoError(t, db.Create(&f.assignment).Error)
	for i, q := range []*models.Question{&f.mc, &f.open, &f.code, &f.design} {
		require.NoError(t, db.Create(q).Error)
		require.NoError(t, db.Create(&models.AssignmentQuestion{AssignmentID: f.assignment.ID, QuestionID: q.ID, OrderIndex: i}).Error)
	}
	require.NoError(t, db.Create(&models.ClassEnrollment{ClassID: 1, StudentID: studentID}).Error)
	require.NoError(t, db.Create(&models.ClassEnrollment{ClassID: 1, StudentID: otherID}).Error)
	return f
}

func token(t *testing.T, userID uint, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatUint(uint64(userID), 10),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) call(t *testing.T, method, path, bearer string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) envelope[T] {
	t.Helper()
	defer resp.Body.Close()
	var payload envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func path(format string, args ...interface{}) string {
	return "/api/v1" + fmt.Sprintf(format, args...)
}
