// Package docker runs sandboxed workloads in throw-away containers.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrTimedOut is returned when the container outlives its timeout.
var ErrTimedOut = errors.New("container execution timed out")

var (
	containerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox_container",
		Name:      "duration_seconds",
		Help:      "Wall time of sandbox containers by phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"language", "phase"})

	containerTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox_container",
		Name:      "timeouts_total",
		Help:      "Sandbox containers killed after their deadline.",
	}, []string{"language", "phase"})

	containerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox_container",
		Name:      "failures_total",
		Help:      "Sandbox containers that could not be created, started or awaited.",
	}, []string{"language", "phase"})
)

// Executor runs a single command inside an isolated container.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// ExecutionRequest describes one container run. Language and Phase only label telemetry.
type ExecutionRequest struct {
	Language        string
	Phase           string
	Image           string
	Cmd             []string
	Env             []string
	Timeout         time.Duration
	Workspace       string
	MemoryLimitMB   int64
	CPUShares       int64
	NetworkDisabled bool
}

// ExecutionResult summarises a finished container.
type ExecutionResult struct {
	Stdout           string
	Stderr           string
	ExitCode         int
	Duration         time.Duration
	TimedOut         bool
	MemoryUsageBytes int64
}

// Config groups executor defaults.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkingDir    string
	Logger        zerolog.Logger
}

// DockerExecutor implements Executor on top of the Docker engine API.
type DockerExecutor struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor constructs a Docker backed executor.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-assessment-api/pkg/docker"),
		logger: cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}, nil
}

// Ping checks that the engine is reachable.
func (e *DockerExecutor) Ping(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	return err
}

// WorkingDir returns the in-container path the workspace is mounted at.
func (e *DockerExecutor) WorkingDir() string {
	return e.cfg.WorkingDir
}

// Run creates, starts and awaits a container, collecting its logs and memory usage.
func (e *DockerExecutor) Run(parent context.Context, req ExecutionRequest) (ExecutionResult, error) {
	if req.Image == "" {
		return ExecutionResult{}, errors.New("image is required")
	}

	ctx, span := e.tracer.Start(parent, "docker.executor.run", trace.WithAttributes(
		attribute.String("docker.image", req.Image),
		attribute.String("sandbox.language", req.Language),
		attribute.String("sandbox.phase", req.Phase),
	))
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	labels := []string{req.Language, req.Phase}
	fail := func(stage string, err error) (ExecutionResult, error) {
		containerFailures.WithLabelValues(labels...).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return ExecutionResult{}, fmt.Errorf("container %s: %w", stage, err)
	}

	containerCfg := &container.Config{
		Image:        req.Image,
		Cmd:          req.Cmd,
		Env:          req.Env,
		WorkingDir:   e.cfg.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := e.client.ContainerCreate(ctx, containerCfg, e.hostConfig(req), &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return fail("create", err)
	}

	containerID := created.ID
	defer e.remove(containerID)

	start := time.Now()
	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fail("start", err)
	}

	result := ExecutionResult{}
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.Duration = time.Since(start)
	containerDuration.WithLabelValues(labels...).Observe(result.Duration.Seconds())

	if waitErr != nil {
		if !errors.Is(waitErr, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail("wait", waitErr)
		}
		result.TimedOut = true
		containerTimeouts.WithLabelValues(labels...).Inc()
		e.kill(containerID)
		span.SetStatus(codes.Error, "execution timed out")
	}

	result.Stdout, result.Stderr = e.collectLogs(parent, containerID)
	result.MemoryUsageBytes = e.collectMemory(parent, containerID)

	if result.TimedOut {
		return result, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	}

	return result, nil
}

func (e *DockerExecutor) hostConfig(req ExecutionRequest) *container.HostConfig {
	memory := req.MemoryLimitMB
	if memory == 0 {
		memory = e.cfg.MemoryLimitMB
	}
	shares := req.CPUShares
	if shares == 0 {
		shares = e.cfg.CPUShares
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    memory * 1024 * 1024,
			CPUShares: shares,
		},
		NetworkMode: "bridge",
	}
	if req.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}
	if req.Workspace != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: req.Workspace,
			Target: e.cfg.WorkingDir,
		})
	}
	return hostCfg
}

func (e *DockerExecutor) collectLogs(ctx context.Context, containerID string) (string, string) {
	reader, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
		return "", ""
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && !errors.Is(err, io.EOF) {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to split container logs")
	}
	return stdout.String(), stderr.String()
}

func (e *DockerExecutor) collectMemory(parent context.Context, containerID string) int64 {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	stats, err := e.client.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0
	}
	defer stats.Body.Close()

	var data types.StatsJSON
	if err := json.NewDecoder(stats.Body).Decode(&data); err != nil {
		return 0
	}
	return int64(data.MemoryStats.MaxUsage)
}

func (e *DockerExecutor) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.client.ContainerKill(ctx, containerID, "KILL"); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
	}
}

func (e *DockerExecutor) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
	}
}

// Close shuts down the underlying engine client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
