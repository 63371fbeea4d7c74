package pipeline

import (
	"errors"

	"servicesift-backend/internal/analyses"
)

// Failure codes persisted on the analysis row.
const (
	CodeExtractionFailed = "EXTRACTION_FAILED"
	CodeAnalysisFailed   = "ANALYSIS_FAILED"
	CodeSaveFailed       = "SAVE_FAILED"
	CodeTimeout          = "TIMEOUT"
	CodeDeadLetter       = "PIPELINE_DEAD_LETTER"
	CodeConfig           = "CONFIG_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

var (
	// ErrRunNotAccepted means another run owns the analysis; the job is a duplicate.
	ErrRunNotAccepted = errors.New("pipeline run not accepted")
	// ErrRunSuperseded means the analysis moved out from under the run.
	ErrRunSuperseded = errors.New("pipeline run superseded")
)

// Error is a classified stage failure. It has been persisted when returned by Runner.Run.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Failure converts the error to the persisted form.
func (e *Error) Failure() analyses.Failure {
	return analyses.Failure{Code: e.Code, Message: e.Message}
}

// Retryable reports whether a user may retry an analysis that failed with code.
func Retryable(code string) bool {
	switch code {
	case CodeExtractionFailed, CodeAnalysisFailed, CodeSaveFailed, CodeTimeout, CodeDeadLetter:
		return true
	default:
		return false
	}
}

// AsError extracts a classified pipeline error.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
