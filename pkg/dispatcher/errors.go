package dispatcher

import (
	"errors"
	"fmt"

	"github.com/tenexa/wanworker/pkg/comfy"
	"github.com/tenexa/wanworker/pkg/tracker"
	"github.com/tenexa/wanworker/pkg/workflow"
)

// Stable error codes. Clients branch on these strings, so they never change
// meaning or spelling once published.
const (
	CodeComfyNotReady   = "COMFY_NOT_READY"
	CodeNoImage         = "NO_IMAGE"
	CodeNoEndImage      = "NO_END_IMAGE"
	CodeUnknownTemplate = "UNKNOWN_TEMPLATE"
	CodeMissingNode     = "MISSING_NODE"
	CodeQueueFailed     = "QUEUE_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeNoOutput        = "NO_OUTPUT"
	CodeGenerationError = "GENERATION_ERROR"
	CodeBusy            = "BUSY"
)

// JobError is a terminal job failure carrying its stable code and, where it
// helps operators, the engine log tail.
type JobError struct {
	Code     string
	Message  string
	LogsTail string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope is the failure response body.
type Envelope struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	LogsTail     string `json:"logs_tail,omitempty"`
}

// Envelope renders the error as a response payload.
func (e *JobError) Envelope() Envelope {
	return Envelope{
		Status:       "failed",
		ErrorCode:    e.Code,
		ErrorMessage: e.Message,
		LogsTail:     e.LogsTail,
	}
}

func jobErrorf(code, format string, args ...any) *JobError {
	return &JobError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify folds sentinel errors from the pipeline into the closed code
// taxonomy. Anything unrecognized is a GENERATION_ERROR.
func classify(err error) *JobError {
	switch {
	case errors.Is(err, workflow.ErrUnknownTemplate):
		return &JobError{Code: CodeUnknownTemplate, Message: err.Error()}
	case errors.Is(err, workflow.ErrMissingNode):
		return &JobError{Code: CodeMissingNode, Message: err.Error()}
	case errors.Is(err, comfy.ErrQueueRejected):
		return &JobError{Code: CodeQueueFailed, Message: err.Error()}
	case errors.Is(err, tracker.ErrTimeout):
		return &JobError{Code: CodeTimeout, Message: err.Error()}
	case errors.Is(err, tracker.ErrNoOutput):
		return &JobError{Code: CodeNoOutput, Message: err.Error()}
	default:
		return &JobError{Code: CodeGenerationError, Message: err.Error()}
	}
}
