// Package tracker submits patched graphs to the engine and follows them to
// a terminal state.
//
// One tracker run covers exactly one submission: a fresh correlation ID, a
// dedicated event stream, a wall-clock deadline, and history-based artifact
// resolution. Nothing survives the run; the worker holds no cross-request
// execution state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tenexa/wanworker/pkg/comfy"
	"github.com/tenexa/wanworker/pkg/workflow"
)

// Status is the lifecycle state of one tracked execution.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusTimedOut Status = "timed_out"
	StatusFailed   Status = "failed"
)

// Terminal failure modes. ErrQueueRejected submissions surface the comfy
// sentinel directly.
var (
	// ErrTimeout fires when no completion event arrives before the
	// deadline. The correlation ID is abandoned; the engine job may still
	// finish unobserved.
	ErrTimeout = errors.New("execution timed out")

	// ErrNoOutput fires when a completion event arrived but history holds
	// no video output for the correlation ID. Distinct from ErrTimeout.
	ErrNoOutput = errors.New("no output produced")

	// ErrStreamLost fires when the event stream dies before completion,
	// which usually means the engine process is gone.
	ErrStreamLost = errors.New("engine event stream lost")

	// ErrCanceled fires when the caller's context ends before completion.
	// Distinct from ErrTimeout: the deadline never elapsed.
	ErrCanceled = errors.New("execution canceled")
)

// ExecutionRecord tracks one submission from queue to terminal state. It is
// mutated only by Run and discarded once the result is returned.
type ExecutionRecord struct {
	JobID        string
	PromptID     string
	SubmittedAt  time.Time
	Status       Status
	ArtifactPath string
	Err          error
}

// Tracker drives executions against one engine.
type Tracker struct {
	client    *comfy.Client
	outputDir string
	logger    *zap.Logger
}

// New returns a tracker resolving artifacts under outputDir.
func New(client *comfy.Client, outputDir string, logger *zap.Logger) *Tracker {
	return &Tracker{client: client, outputDir: outputDir, logger: logger}
}

// Run submits graph and blocks until completion, stream loss, or timeout.
// On success the returned record has Status Done and a resolved artifact
// path; every other outcome returns the record alongside a non-nil error.
func (t *Tracker) Run(ctx context.Context, graph workflow.Graph, timeout time.Duration) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{
		JobID:       uuid.New().String(),
		SubmittedAt: time.Now().UTC(),
		Status:      StatusPending,
	}

	// The stream is opened before submission so a completion emitted
	// immediately after queueing cannot be missed.
	stream, err := comfy.DialEvents(ctx, t.client.Endpoint(), rec.JobID)
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err
		return rec, fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	promptID, err := t.client.QueuePrompt(ctx, graph, rec.JobID)
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err
		return rec, err
	}
	rec.PromptID = promptID
	rec.Status = StatusRunning
	t.logger.Info("graph submitted",
		zap.String("job_id", rec.JobID),
		zap.String("prompt_id", promptID),
		zap.Duration("timeout", timeout))

	if err := t.await(ctx, stream, rec, timeout); err != nil {
		return rec, err
	}

	path, err := t.resolveArtifact(ctx, promptID)
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err
		return rec, err
	}
	rec.ArtifactPath = path
	rec.Status = StatusDone
	return rec, nil
}

// await blocks until the terminal event for rec.PromptID, stream death, or
// the deadline. The deadline is wall-clock from submission: the local wait
// ends at the boundary even though the engine job may run on.
func (t *Tracker) await(ctx context.Context, stream *comfy.EventStream, rec *ExecutionRecord, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Samplers emit a progress event per step; log at most one per second.
	progressLog := rate.NewLimiter(rate.Every(time.Second), 1)

	for {
		select {
		case ev, open := <-stream.Events():
			if !open {
				rec.Status = StatusFailed
				rec.Err = fmt.Errorf("%w: %v", ErrStreamLost, stream.Err())
				return rec.Err
			}

			if exec, ok := ev.Executing(); ok {
				if exec.Node == nil && exec.PromptID == rec.PromptID {
					t.logger.Info("execution complete",
						zap.String("prompt_id", rec.PromptID),
						zap.Duration("elapsed", time.Since(rec.SubmittedAt)))
					return nil
				}
				continue
			}

			if execErr, ok := ev.ExecutionError(); ok && execErr.PromptID == rec.PromptID {
				rec.Status = StatusFailed
				rec.Err = fmt.Errorf("engine execution error at node %s (%s): %s",
					execErr.NodeID, execErr.NodeType, execErr.ExceptionMessage)
				return rec.Err
			}

			if prog, ok := ev.Progress(); ok && progressLog.Allow() {
				t.logger.Debug("execution progress",
					zap.String("prompt_id", rec.PromptID),
					zap.Int("value", prog.Value),
					zap.Int("max", prog.Max))
			}

		case <-deadline.C:
			rec.Status = StatusTimedOut
			rec.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
			return rec.Err

		case <-ctx.Done():
			rec.Status = StatusFailed
			rec.Err = fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
			return rec.Err
		}
	}
}
