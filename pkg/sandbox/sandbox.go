// Package sandbox abstracts the out-of-process service that compiles and runs student code.
package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable indicates the sandbox could not be reached or refused to serve the request.
	ErrUnavailable = errors.New("sandbox unavailable")
	// ErrTimeout indicates the execution exceeded its deadline.
	ErrTimeout = errors.New("sandbox execution timed out")
	// ErrUnsupportedLanguage indicates the backend has no runtime for the language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Request describes one compile-and-run job.
type Request struct {
	Language       string
	SourceCode     string
	Stdin          string
	CompileTimeout time.Duration
	RunTimeout     time.Duration
}

// Result is the raw outcome reported by a backend.
type Result struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	ExecutionTime   time.Duration
	MemoryKB        int64
	CompileFailed   bool
	CompileOutput   string
	CompileTimedOut bool
	TimedOut        bool
}

// Sandbox executes code on behalf of the evaluation workers.
type Sandbox interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// SupportedLanguages lists the languages every backend understands.
var SupportedLanguages = []string{"python", "javascript", "java", "go"}

// NormalizeLanguage lowercases the language and resolves common aliases.
func NormalizeLanguage(language string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(language))
	switch normalized {
	case "python3", "py":
		normalized = "python"
	case "js", "node", "nodejs":
		normalized = "javascript"
	case "golang":
		normalized = "go"
	}
	for _, supported := range SupportedLanguages {
		if supported == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTimeout reports whether err represents an execution deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
