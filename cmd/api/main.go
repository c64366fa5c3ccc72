package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/database"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/router"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	cloud "github.com/noah-isme/gema-assessment-api/pkg/cloudinary"
	"github.com/noah-isme/gema-assessment-api/pkg/docker"
	"github.com/noah-isme/gema-assessment-api/pkg/sandbox"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-assessment-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if !cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis disabled: leaderboard served from the database, no cross-node relay")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	executor, closeSandbox, err := buildSandbox(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.SandboxDriver).Msg("failed to initialise sandbox")
	}
	defer closeSandbox()

	var previews service.PreviewUploader
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Enabled() {
		store, err := cloud.New(cloudCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		previews = store
	} else {
		logger.Warn().Msg("cloudinary disabled: design previews are not stored")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	transactor := repository.NewTransactor(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	xpRepo := repository.NewXPRepository(db)

	runner := service.NewAsyncRunner(cfg.PostCommitTimeout, logger)
	dispatcher := service.NewNotificationDispatcher(redisClient, natsConn, cfg.RealtimeChannelBase, logger)
	leaderboard := service.NewLeaderboardService(xpRepo, redisClient, logger)
	ledger := service.NewXPLedgerService(xpRepo, leaderboard, runner, validate, logger)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), dispatcher, validate, logger)

	hooks := service.Hooks{
		Runner:        runner,
		Dispatcher:    dispatcher,
		Notifications: notifications,
		Gradebook:     service.NewGradebookService(repository.NewGradeRepository(db), nil, logger),
		Leaderboard:   leaderboard,
	}

	submissionService := service.NewSubmissionService(transactor, assignmentRepo, repository.NewRosterRepository(db), submissionRepo, ledger, hooks, validate, logger)
	codeService := service.NewCodeEvaluationService(transactor, assignmentRepo, submissionRepo, repository.NewCodeArtifactRepository(db), executor, hooks,
		service.CodeEvaluationConfig{
			Workers:           cfg.EvaluationWorkers,
			QueueSize:         cfg.EvaluationQueue,
			EvaluationTimeout: cfg.EvaluationTimeout,
			CompileTimeout:    cfg.CompileTimeout,
			RunTimeout:        cfg.RunTimeout,
			StaleAfter:        cfg.StaleAfter,
			SweepInterval:     cfg.SweepInterval,
		}, validate, logger)
	designService := service.NewDesignService(transactor, assignmentRepo, submissionRepo, repository.NewDesignArtifactRepository(db), ledger, previews, hooks, validate, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start realtime relay")
	}
	codeService.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    8 << 20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.AllowOrigins, AccessLog: !cfg.IsProduction()})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:   handler.NewSubmissionHandler(submissionService, logger),
		CodeHandler:         handler.NewCodeHandler(codeService, logger),
		DesignHandler:       handler.NewDesignHandler(designService, logger),
		XPHandler:           handler.NewXPHandler(ledger, leaderboard, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, dispatcher, logger, cfg.SSEKeepAlive),
		RealtimeHandler:     handler.NewRealtimeHandler(dispatcher, cfg.JWTSecret, logger),
		HealthProbes:        healthProbes(db, redisClient),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		CodeSubmitLimiter:   middleware.RateLimit("code_submit", cfg.CodeSubmitLimit, cfg.CodeSubmitWindow),
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Msg("http server listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, cfg.ShutdownTimeout, logger)

	cancel()
	codeService.Wait()
	runner.Wait()
	logger.Info().Msg("server stopped")
}

func buildSandbox(cfg config.Config, logger zerolog.Logger) (sandbox.Sandbox, func(), error) {
	if cfg.SandboxDriver == config.SandboxDocker {
		executor, err := docker.NewDockerExecutor(docker.Config{
			Host:          cfg.DockerHost,
			Timeout:       cfg.CompileTimeout + cfg.RunTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		if err != nil {
			return nil, func() {}, err
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := executor.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Msg("docker engine not reachable yet, evaluations will fail until it is")
		}

		backend := sandbox.NewDockerSandbox(executor, sandbox.DockerConfig{
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		return backend, func() { _ = executor.Close() }, nil
	}

	client, err := sandbox.NewPistonClient(sandbox.PistonConfig{
		BaseURL:    cfg.SandboxURL,
		HTTPClient: &http.Client{Timeout: cfg.CompileTimeout + cfg.RunTimeout + 5*time.Second},
		Logger:     logger,
	})
	if err != nil {
		return nil, func() {}, err
	}
	return client, func() {}, nil
}

func healthProbes(db *gorm.DB, redisClient *redis.Client) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return probes
}

func waitForShutdown(app *fiber.App, timeout time.Duration, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
