package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxPistonResponseBytes = 1 << 20

var pistonLanguages = map[string]string{
	"python":     "python",
	"javascript": "javascript",
	"java":       "java",
	"go":         "go",
}

// PistonConfig configures the HTTP sandbox client.
type PistonConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// PistonClient talks to a Piston compatible execution API.
type PistonClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
	tracer  trace.Tracer
}

type pistonFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language       string       `json:"language"`
	Version        string       `json:"version"`
	Files          []pistonFile `json:"files"`
	Stdin          string       `json:"stdin"`
	CompileTimeout int64        `json:"compile_timeout"`
	RunTimeout     int64        `json:"run_timeout"`
}

type pistonStage struct {
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	Output   string  `json:"output"`
	Code     *int    `json:"code"`
	Signal   *string `json:"signal"`
	CPUTime  *int64  `json:"cpu_time"`
	WallTime *int64  `json:"wall_time"`
	Memory   *int64  `json:"memory"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      pistonStage  `json:"run"`
	Compile  *pistonStage `json:"compile"`
	Message  string       `json:"message"`
}

// NewPistonClient constructs a client for the given base URL.
func NewPistonClient(cfg PistonConfig) (*PistonClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("sandbox url must not be empty")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &PistonClient{
		baseURL: base,
		http:    httpClient,
		logger:  cfg.Logger.With().Str("component", "piston_sandbox").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/gema-assessment-api/pkg/sandbox"),
	}, nil
}

// Execute submits the code to the remote sandbox and waits for the verdict.
func (c *PistonClient) Execute(parent context.Context, req Request) (Result, error) {
	language, ok := pistonLanguages[req.Language]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	ctx, span := c.tracer.Start(parent, "sandbox.piston.execute", trace.WithAttributes(
		attribute.String("sandbox.language", language),
	))
	defer span.End()

	body, err := json.Marshal(pistonRequest{
		Language:       language,
		Version:        "*",
		Files:          []pistonFile{{Content: req.SourceCode}},
		Stdin:          req.Stdin,
		CompileTimeout: req.CompileTimeout.Milliseconds(),
		RunTimeout:     req.RunTimeout.Milliseconds(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sandbox_request_failed")
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{TimedOut: true}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPistonResponseBytes))
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, "sandbox_server_error")
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded pistonResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message := strings.TrimSpace(decoded.Message)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		span.SetStatus(codes.Error, "sandbox_rejected")
		return Result{}, fmt.Errorf("sandbox rejected request: %s", message)
	}

	result := decoded.toResult(time.Since(start))
	span.SetAttributes(
		attribute.Int("sandbox.exit_code", result.ExitCode),
		attribute.Bool("sandbox.compile_failed", result.CompileFailed),
		attribute.Bool("sandbox.timed_out", result.TimedOut),
	)

	c.logger.Debug().
		Str("language", language).
		Int("exit_code", result.ExitCode).
		Dur("elapsed", result.ExecutionTime).
		Msg("sandbox execution finished")

	return result, nil
}

func (r pistonResponse) toResult(elapsed time.Duration) Result {
	result := Result{
		Stdout:        r.Run.Stdout,
		Stderr:        r.Run.Stderr,
		ExecutionTime: elapsed,
	}

	if r.Run.WallTime != nil {
		result.ExecutionTime = time.Duration(*r.Run.WallTime) * time.Millisecond
	}
	if r.Run.Memory != nil {
		result.MemoryKB = *r.Run.Memory / 1024
	}

	if r.Compile != nil {
		// A killed compiler also reports a non-zero code; the signal wins.
		if isKillSignal(r.Compile.Signal) {
			result.TimedOut = true
			result.CompileTimedOut = true
			result.ExitCode = -1
			return result
		}
		if r.Compile.Code != nil && *r.Compile.Code != 0 {
			result.CompileFailed = true
			result.CompileOutput = firstNonEmpty(r.Compile.Stderr, r.Compile.Output, r.Compile.Stdout)
			result.ExitCode = *r.Compile.Code
			return result
		}
	}

	if r.Run.Code != nil {
		result.ExitCode = *r.Run.Code
	}
	if isKillSignal(r.Run.Signal) {
		result.TimedOut = true
		if r.Run.Code == nil {
			result.ExitCode = -1
		}
	}

	return result
}

func isKillSignal(signal *string) bool {
	return signal != nil && strings.EqualFold(*signal, "SIGKILL")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
