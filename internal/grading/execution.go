package grading

import (
	"errors"
	"strings"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/pkg/sandbox"
)

// Verdict is the terminal classification of one sandbox execution.
type Verdict struct {
	CompileStatus models.CompileStatus
	RunStatus     models.RunStatus
	Output        string
	ErrorMessage  string
}

// Passed reports whether the verdict earns the question's points.
func (v Verdict) Passed() bool {
	return v.RunStatus == models.RunStatusSuccess
}

// ClassifyExecution maps a sandbox response (or failure) to compile and run statuses.
func ClassifyExecution(result sandbox.Result, err error, expectedOutput string) Verdict {
	if err != nil {
		switch {
		case sandbox.IsTimeout(err) || result.TimedOut:
			return timeoutVerdict(result, err)
		case errors.Is(err, sandbox.ErrUnavailable):
			return Verdict{
				CompileStatus: models.CompileStatusError,
				RunStatus:     models.RunStatusError,
				ErrorMessage:  err.Error(),
			}
		default:
			return Verdict{
				CompileStatus: models.CompileStatusError,
				RunStatus:     models.RunStatusError,
				Output:        result.Stdout,
				ErrorMessage:  err.Error(),
			}
		}
	}

	if result.TimedOut {
		return timeoutVerdict(result, sandbox.ErrTimeout)
	}

	if result.CompileFailed {
		return Verdict{
			CompileStatus: models.CompileStatusError,
			RunStatus:     models.RunStatusError,
			ErrorMessage:  result.CompileOutput,
		}
	}

	verdict := Verdict{
		CompileStatus: models.CompileStatusSuccess,
		Output:        result.Stdout,
	}

	if result.ExitCode != 0 || strings.TrimSpace(result.Stderr) != "" {
		verdict.RunStatus = models.RunStatusError
		verdict.ErrorMessage = result.Stderr
		return verdict
	}

	if strings.TrimSpace(expectedOutput) == "" {
		verdict.RunStatus = models.RunStatusSuccess
		return verdict
	}

	if strings.TrimSpace(result.Stdout) == strings.TrimSpace(expectedOutput) {
		verdict.RunStatus = models.RunStatusSuccess
	} else {
		verdict.RunStatus = models.RunStatusWrongAnswer
	}
	return verdict
}

func timeoutVerdict(result sandbox.Result, err error) Verdict {
	verdict := Verdict{
		CompileStatus: models.CompileStatusSuccess,
		RunStatus:     models.RunStatusTimeout,
		Output:        result.Stdout,
		ErrorMessage:  err.Error(),
	}
	// No response at all means the code was never confirmed to compile.
	if result.CompileTimedOut || (result.ExecutionTime == 0 && result.Stdout == "") {
		verdict.CompileStatus = models.CompileStatusTimeout
	}
	return verdict
}
