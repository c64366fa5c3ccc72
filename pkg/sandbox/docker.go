package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/pkg/docker"
)

type languageRuntime struct {
	image   string
	file    string
	compile string
	run     string
}

var dockerRuntimes = map[string]languageRuntime{
	"python": {
		image: "python:3.11-alpine",
		file:  "main.py",
		run:   "python3 main.py < input.txt",
	},
	"javascript": {
		image: "node:20-alpine",
		file:  "main.js",
		run:   "node main.js < input.txt",
	},
	"java": {
		image:   "eclipse-temurin:21-jdk-alpine",
		file:    "Main.java",
		compile: "javac Main.java",
		run:     "java -cp . Main < input.txt",
	},
	"go": {
		image:   "golang:1.22-alpine",
		file:    "main.go",
		compile: "go build -o main main.go",
		run:     "./main < input.txt",
	},
}

// DockerConfig tunes the container backend.
type DockerConfig struct {
	MemoryLimitMB int64
	CPUShares     int64
	WorkspaceRoot string
	Logger        zerolog.Logger
}

// DockerSandbox compiles and runs code in local containers, one container per phase.
type DockerSandbox struct {
	executor docker.Executor
	cfg      DockerConfig
	logger   zerolog.Logger
}

// NewDockerSandbox wraps an executor as a Sandbox.
func NewDockerSandbox(executor docker.Executor, cfg DockerConfig) *DockerSandbox {
	return &DockerSandbox{
		executor: executor,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "docker_sandbox").Logger(),
	}
}

// Execute writes the source into a temporary workspace and runs the compile and run phases.
func (s *DockerSandbox) Execute(ctx context.Context, req Request) (Result, error) {
	runtime, ok := dockerRuntimes[req.Language]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	workspace, err := os.MkdirTemp(s.cfg.WorkspaceRoot, "gema-eval-*")
	if err != nil {
		return Result{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			s.logger.Warn().Err(err).Str("workspace", workspace).Msg("failed to clean evaluation workspace")
		}
	}()

	if err := os.WriteFile(filepath.Join(workspace, runtime.file), []byte(req.SourceCode), 0o644); err != nil {
		return Result{}, fmt.Errorf("write source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "input.txt"), []byte(req.Stdin), 0o644); err != nil {
		return Result{}, fmt.Errorf("write stdin: %w", err)
	}

	if runtime.compile != "" {
		compiled, err := s.phase(ctx, req, runtime, "compile", runtime.compile, req.CompileTimeout, workspace)
		if err != nil {
			return Result{TimedOut: compiled.TimedOut, CompileTimedOut: compiled.TimedOut}, err
		}
		if compiled.ExitCode != 0 {
			return Result{
				ExitCode:      compiled.ExitCode,
				CompileFailed: true,
				CompileOutput: firstNonEmpty(compiled.Stderr, compiled.Stdout),
				ExecutionTime: compiled.Duration,
			}, nil
		}
	}

	ran, err := s.phase(ctx, req, runtime, "run", runtime.run, req.RunTimeout, workspace)
	result := Result{
		Stdout:        ran.Stdout,
		Stderr:        ran.Stderr,
		ExitCode:      ran.ExitCode,
		ExecutionTime: ran.Duration,
		MemoryKB:      ran.MemoryUsageBytes / 1024,
		TimedOut:      ran.TimedOut,
	}
	return result, err
}

func (s *DockerSandbox) phase(ctx context.Context, req Request, runtime languageRuntime, phase, command string, timeout time.Duration, workspace string) (docker.ExecutionResult, error) {
	result, err := s.executor.Run(ctx, docker.ExecutionRequest{
		Language:        req.Language,
		Phase:           phase,
		Image:           runtime.image,
		Cmd:             []string{"sh", "-c", command},
		Env:             []string{"GOCACHE=/tmp/gocache", "GOFLAGS=-mod=mod"},
		Timeout:         timeout,
		Workspace:       workspace,
		MemoryLimitMB:   s.cfg.MemoryLimitMB,
		CPUShares:       s.cfg.CPUShares,
		NetworkDisabled: true,
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, docker.ErrTimedOut) || result.TimedOut {
		result.TimedOut = true
		return result, fmt.Errorf("%w: %s phase", ErrTimeout, phase)
	}
	if client.IsErrConnectionFailed(err) {
		return result, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, err
}
