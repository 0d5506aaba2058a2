package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/config"
	"github.com/sifangyu/weipc/internal/platform/observability"
)

// The three fixed steps, executed in this order.
const (
	StepLinkCrawl     = "link_crawl"
	StepContentCrawl  = "content_crawl"
	StepForumPublish  = "forum_publish"
)

// StepOrder is the fixed execution order of the workflow's steps.
var StepOrder = []string{StepLinkCrawl, StepContentCrawl, StepForumPublish}

// StepResult is what a StepFunc reports back to the engine.
type StepResult struct {
	Message string
	Details map[string]any
}

// StepFunc performs one step's work. It must respect ctx cancellation
// and return promptly once ctx is done.
type StepFunc func(ctx context.Context, params map[string]interface{}) (StepResult, error)

// Engine drives the three-step workflow: gate each step with the
// Status Checker, execute with bounded retry, checkpoint every
// transition to the Execution Record, and stop cleanly on
// cancellation.
type Engine struct {
	checker  *StatusChecker
	tracker  *Tracker
	steps    map[string]StepFunc
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine constructs an Engine. steps maps step name to the function
// that performs it; every name in StepOrder should have an entry.
func NewEngine(checker *StatusChecker, tracker *Tracker, steps map[string]StepFunc, logger zerolog.Logger) *Engine {
	return &Engine{checker: checker, tracker: tracker, steps: steps, logger: logger, now: time.Now}
}

// RunResult summarizes one execute_workflow call.
type RunResult struct {
	Success     bool
	ExecutionID string
	Status      ExecutionStatus
	Summary     Summary

	// Err is the last step failure that led to Status being
	// ExecutionFailed, if any. FinishExecution itself can succeed (the
	// Execution Record is written fine) while a step still failed, so
	// callers that need to distinguish failure classes (credentials
	// expired, rate limited) must inspect this rather than the error
	// Run/Resume return.
	Err error
}

// Run executes settings' enabled steps in fixed order under a fresh
// Execution Record, starting at fromStep (or the first step, if
// empty). It stops as soon as ctx is cancelled, leaving the current
// step "running" (or "failed", if the cancellation happened between
// retries) so a later Resume can pick back up.
func (e *Engine) Run(ctx context.Context, settings config.WorkflowSettings, fromStep string) (RunResult, error) {
	id, err := e.tracker.StartExecution("", e.now())
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: start execution: %w", pipeerrs.ErrConfig, err)
	}

	return e.run(ctx, settings, id, fromStep)
}

// Resume reloads executionID's Execution Record and continues from its
// recorded current step, matching resume_execution.
func (e *Engine) Resume(ctx context.Context, settings config.WorkflowSettings, executionID string) (RunResult, error) {
	if err := e.tracker.LoadExecution(executionID); err != nil {
		return RunResult{}, fmt.Errorf("%w: resume execution %s: %w", pipeerrs.ErrNotFound, executionID, err)
	}

	rec := e.tracker.Progress()

	return e.run(ctx, settings, executionID, rec.CurrentStep)
}

func (e *Engine) run(ctx context.Context, settings config.WorkflowSettings, executionID, fromStep string) (RunResult, error) {
	steps := stepsFrom(fromStep)

	var lastStepErr error

	for _, name := range steps {
		select {
		case <-ctx.Done():
			_ = e.tracker.FinishExecution(ExecutionInterrupted, e.now())
			return e.result(executionID, ExecutionInterrupted, lastStepErr), nil
		default:
		}

		stepCfg, ok := settings.Steps[name]
		if !ok {
			e.logger.Warn().Str("step", name).Msg("no configuration for step, skipping")
			continue
		}

		if !stepCfg.Enabled {
			e.logger.Info().Str("step", name).Msg("step disabled, skipping")
			_ = e.tracker.UpdateStepStatus(name, StepSkipped, e.now(), WithMessage("step disabled"))
			observability.WorkflowStepSkipped.WithLabelValues(name, "disabled").Inc()

			continue
		}

		gate, err := e.checker.Check(ctx, name, stepCfg.Params)
		if err != nil {
			e.logger.Error().Err(err).Str("step", name).Msg("gating check failed")
			_ = e.tracker.UpdateStepStatus(name, StepSkipped, e.now(), WithMessage(fmt.Sprintf("gating check failed: %v", err)))
			observability.WorkflowStepSkipped.WithLabelValues(name, "gate_error").Inc()

			continue
		}

		if !gate.ShouldExecute {
			e.logger.Info().Str("step", name).Str("reason", gate.Reason).Msg("step has no work, skipping")
			_ = e.tracker.UpdateStepStatus(name, StepSkipped, e.now(), WithMessage(gate.Reason))
			observability.WorkflowStepSkipped.WithLabelValues(name, "no_pending_work").Inc()

			continue
		}

		if err := e.executeStepWithRetry(ctx, name, stepCfg); err != nil {
			e.logger.Error().Err(err).Str("step", name).Msg("step exhausted retries")
			lastStepErr = err
		}

		if ctx.Err() != nil {
			_ = e.tracker.FinishExecution(ExecutionInterrupted, e.now())
			return e.result(executionID, ExecutionInterrupted, lastStepErr), nil
		}
	}

	status := ExecutionCompleted
	if e.tracker.Progress().Summary.FailedSteps > 0 {
		status = ExecutionFailed
	}

	if err := e.tracker.FinishExecution(status, e.now()); err != nil {
		return RunResult{}, fmt.Errorf("%w: finish execution: %w", pipeerrs.ErrConfig, err)
	}

	return e.result(executionID, status, lastStepErr), nil
}

func (e *Engine) result(executionID string, status ExecutionStatus, stepErr error) RunResult {
	rec := e.tracker.Progress()

	observability.WorkflowExecutions.WithLabelValues(string(status)).Inc()

	result := RunResult{
		Success:     status == ExecutionCompleted,
		ExecutionID: executionID,
		Status:      status,
		Summary:     rec.Summary,
	}

	if !result.Success {
		result.Err = stepErr
	}

	return result
}

// executeStepWithRetry runs step name up to retryCount+1 times,
// stopping early on success, context cancellation, or once retries are
// exhausted, matching _execute_single_step's attempt loop.
func (e *Engine) executeStepWithRetry(ctx context.Context, name string, stepCfg config.StepSettings) error {
	fn, ok := e.steps[name]
	if !ok {
		err := fmt.Errorf("%w: no executor registered for step %s", pipeerrs.ErrInvalidInput, name)
		_ = e.tracker.UpdateStepStatus(name, StepFailed, e.now(), WithError(err))

		return err
	}

	_ = e.tracker.UpdateStepStatus(name, StepRunning, e.now())

	started := e.now()
	timeout := time.Duration(stepCfg.TimeoutSec) * time.Second

	var lastErr error

	for attempt := 0; attempt <= stepCfg.RetryCount; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			e.logger.Info().Str("step", name).Int("attempt", attempt).Msg("retrying step")
			observability.WorkflowStepRetries.WithLabelValues(name).Inc()
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(stepCtx, stepCfg.Params)
		cancel()

		if err == nil {
			_ = e.tracker.UpdateStepStatus(name, StepCompleted, e.now(), WithMessage(result.Message), WithDetails(result.Details))
			observability.WorkflowStepDuration.WithLabelValues(name, "completed").Observe(e.now().Sub(started).Seconds())

			return nil
		}

		lastErr = err

		if pipeerrs.Is(err, pipeerrs.ErrCredentialsExpired) || pipeerrs.Is(err, pipeerrs.ErrRateLimited) {
			e.logger.Warn().Err(err).Str("step", name).Msg("step failed with a non-retryable error, not retrying")
			break
		}

		if attempt < stepCfg.RetryCount {
			e.logger.Warn().Err(err).Str("step", name).Msg("step failed, will retry")
			continue
		}
	}

	_ = e.tracker.UpdateStepStatus(name, StepFailed, e.now(), WithError(lastErr))
	observability.WorkflowStepDuration.WithLabelValues(name, "failed").Observe(e.now().Sub(started).Seconds())

	return lastErr
}

func stepsFrom(fromStep string) []string {
	if fromStep == "" {
		return StepOrder
	}

	for i, name := range StepOrder {
		if name == fromStep {
			return StepOrder[i:]
		}
	}

	return StepOrder
}
