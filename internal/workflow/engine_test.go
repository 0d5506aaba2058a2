package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/config"
)

func testWorkflowSettings() config.WorkflowSettings {
	return config.WorkflowSettings{
		Steps: map[string]config.StepSettings{
			StepLinkCrawl:    {Enabled: true, TimeoutSec: 5, RetryCount: 1, Params: map[string]interface{}{"accounts": []interface{}{"acct-a"}}},
			StepContentCrawl: {Enabled: true, TimeoutSec: 5, RetryCount: 1, Params: map[string]interface{}{"limit": 50}},
			StepForumPublish: {Enabled: true, TimeoutSec: 5, RetryCount: 1, Params: map[string]interface{}{"limit": 100}},
		},
	}
}

func newExecutableChecker() *StatusChecker {
	return NewStatusChecker(&fakeAccountStats{}, &fakePendingCounts{contentCrawl: 10, forumPublish: 10})
}

func countingStep(calls *[]string, fail bool) StepFunc {
	return func(ctx context.Context, params map[string]interface{}) (StepResult, error) {
		*calls = append(*calls, "called")
		if fail {
			return StepResult{}, errors.New("step failed")
		}

		return StepResult{Message: "done"}, nil
	}
}

func TestEngine_Run_AllStepsSucceedMarksCompleted(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	steps := map[string]StepFunc{
		StepLinkCrawl:    countingStep(&[]string{}, false),
		StepContentCrawl: countingStep(&[]string{}, false),
		StepForumPublish: countingStep(&[]string{}, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())
	engine.now = time.Now

	result, err := engine.Run(context.Background(), testWorkflowSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, result.Status)
	assert.Equal(t, 3, result.Summary.CompletedSteps)
}

func TestEngine_Run_StepExhaustsRetriesThenFails(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	var calls []string

	steps := map[string]StepFunc{
		StepLinkCrawl:    countingStep(&calls, true),
		StepContentCrawl: countingStep(&calls, false),
		StepForumPublish: countingStep(&calls, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Run(context.Background(), testWorkflowSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, result.Status)
	assert.Equal(t, 1, result.Summary.FailedSteps)
	// retry_count=1 means two attempts: initial + one retry.
	assert.Len(t, calls, 2)
}

func TestEngine_Run_DisabledStepIsSkipped(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	settings := testWorkflowSettings()
	step := settings.Steps[StepContentCrawl]
	step.Enabled = false
	settings.Steps[StepContentCrawl] = step

	var calls []string
	steps := map[string]StepFunc{
		StepLinkCrawl:    countingStep(&calls, false),
		StepContentCrawl: countingStep(&calls, false),
		StepForumPublish: countingStep(&calls, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Run(context.Background(), settings, "")
	require.NoError(t, err)
	assert.Equal(t, StepSkipped, tracker.Progress().Steps[StepContentCrawl].Status)
	assert.Equal(t, 2, result.Summary.CompletedSteps)
	assert.Len(t, calls, 2)
}

func TestEngine_Run_NoPendingWorkSkipsStep(t *testing.T) {
	tracker := newTestTracker(t)
	checker := NewStatusChecker(&fakeAccountStats{byAccount: nil}, &fakePendingCounts{contentCrawl: 0, forumPublish: 0})

	var calls []string
	steps := map[string]StepFunc{
		StepLinkCrawl:    countingStep(&calls, false),
		StepContentCrawl: countingStep(&calls, false),
		StepForumPublish: countingStep(&calls, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	_, err := engine.Run(context.Background(), testWorkflowSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, StepSkipped, tracker.Progress().Steps[StepContentCrawl].Status)
	assert.Equal(t, StepSkipped, tracker.Progress().Steps[StepForumPublish].Status)
	assert.Len(t, calls, 1)
}

func TestEngine_Run_CancellationStopsBeforeNextStep(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	steps := map[string]StepFunc{
		StepLinkCrawl: func(_ context.Context, _ map[string]interface{}) (StepResult, error) {
			calls = append(calls, "link_crawl")
			cancel()
			return StepResult{}, nil
		},
		StepContentCrawl: countingStep(&calls, false),
		StepForumPublish: countingStep(&calls, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Run(ctx, testWorkflowSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionInterrupted, result.Status)
	assert.Equal(t, []string{"link_crawl"}, calls)
}

func TestEngine_Resume_ContinuesFromRecordedCurrentStep(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	id, err := tracker.StartExecution("resume-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, tracker.UpdateStepStatus(StepLinkCrawl, StepCompleted, time.Now()))
	require.NoError(t, tracker.UpdateStepStatus(StepContentCrawl, StepRunning, time.Now()))

	var calls []string
	steps := map[string]StepFunc{
		StepLinkCrawl:    countingStep(&calls, false),
		StepContentCrawl: countingStep(&calls, false),
		StepForumPublish: countingStep(&calls, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Resume(context.Background(), testWorkflowSettings(), id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, result.Status)
	assert.Equal(t, []string{"called", "called"}, calls)
}

func TestEngine_Run_CredentialsExpiredIsNotRetried(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	var calls []string

	settings := testWorkflowSettings()
	step := settings.Steps[StepLinkCrawl]
	step.RetryCount = 3
	settings.Steps[StepLinkCrawl] = step

	steps := map[string]StepFunc{
		StepLinkCrawl: func(_ context.Context, _ map[string]interface{}) (StepResult, error) {
			calls = append(calls, "called")
			return StepResult{}, pipeerrs.ErrCredentialsExpired
		},
		StepContentCrawl: countingStep(&[]string{}, false),
		StepForumPublish: countingStep(&[]string{}, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Run(context.Background(), settings, "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, result.Status)
	// Despite retry_count=3, a credentials-expired failure must not retry.
	assert.Len(t, calls, 1)
	assert.ErrorIs(t, result.Err, pipeerrs.ErrCredentialsExpired)
}

func TestEngine_Run_RateLimitedIsNotRetried(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	var calls []string

	settings := testWorkflowSettings()
	step := settings.Steps[StepLinkCrawl]
	step.RetryCount = 3
	settings.Steps[StepLinkCrawl] = step

	steps := map[string]StepFunc{
		StepLinkCrawl: func(_ context.Context, _ map[string]interface{}) (StepResult, error) {
			calls = append(calls, "called")
			return StepResult{}, pipeerrs.ErrRateLimited
		},
		StepContentCrawl: countingStep(&[]string{}, false),
		StepForumPublish: countingStep(&[]string{}, false),
	}

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Run(context.Background(), settings, "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, result.Status)
	assert.Len(t, calls, 1)
	assert.ErrorIs(t, result.Err, pipeerrs.ErrRateLimited)
}

func TestEngine_Run_FailedResultCarriesLastStepError(t *testing.T) {
	tracker := newTestTracker(t)
	checker := newExecutableChecker()

	sentinel := errors.New("boom")

	steps := map[string]StepFunc{
		StepLinkCrawl: func(_ context.Context, _ map[string]interface{}) (StepResult, error) {
			return StepResult{}, sentinel
		},
		StepContentCrawl: countingStep(&[]string{}, false),
		StepForumPublish: countingStep(&[]string{}, false),
	}

	settings := testWorkflowSettings()
	step := settings.Steps[StepLinkCrawl]
	step.RetryCount = 0
	settings.Steps[StepLinkCrawl] = step

	engine := NewEngine(checker, tracker, steps, zerolog.Nop())

	result, err := engine.Run(context.Background(), settings, "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, result.Status)
	assert.ErrorIs(t, result.Err, sentinel)
}
