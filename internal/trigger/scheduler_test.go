package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/internal/catalog"
	"github.com/gxo-labs/ruleflow/internal/logger"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
)

type recordingRunner struct {
	mu     sync.Mutex
	inputs []map[string]interface{}
}

func (r *recordingRunner) ExecuteStep(_ context.Context, productCode, stepCode string, input map[string]interface{}) *rfv1.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, input)
	reqID, _ := input["requestId"].(string)
	return &rfv1.StepResult{RequestID: reqID, ProductCode: productCode, StepCode: stepCode, Approved: true, Timestamp: time.Now()}
}

func (r *recordingRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []*rfv1.StepResult
}

func (p *recordingPublisher) Publish(_ context.Context, result *rfv1.StepResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
	return nil
}

func newScheduler(t *testing.T) (*Scheduler, *recordingRunner, *recordingPublisher) {
	t.Helper()
	runner := &recordingRunner{}
	pub := &recordingPublisher{}
	s, err := NewScheduler(runner, pub, logger.NewNopLogger())
	require.NoError(t, err)
	return s, runner, pub
}

func nightly() catalog.Step {
	return catalog.Step{
		ProductCode: "PL",
		StepCode:    "NIGHTLY",
		Automated:   true,
		Cron:        "0 2 * * *",
		Input:       map[string]interface{}{"portfolio": "retail"},
	}
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "workflow-step-PL-NIGHTLY", JobName("PL", "NIGHTLY"))
}

func TestScheduleAndUnschedule(t *testing.T) {
	s, _, _ := newScheduler(t)

	require.NoError(t, s.Schedule(nightly()))
	assert.True(t, s.IsScheduled("PL", "NIGHTLY"))
	assert.Equal(t, []string{"workflow-step-PL-NIGHTLY"}, s.Jobs())

	// rescheduling replaces the entry
	require.NoError(t, s.Schedule(nightly()))
	assert.Len(t, s.Jobs(), 1)

	assert.True(t, s.Unschedule("PL", "NIGHTLY"))
	assert.False(t, s.IsScheduled("PL", "NIGHTLY"))
	assert.False(t, s.Unschedule("PL", "NIGHTLY"))
}

func TestScheduleRejectsBadCron(t *testing.T) {
	s, _, _ := newScheduler(t)

	step := nightly()
	step.Cron = "not a schedule"
	err := s.Schedule(step)
	require.Error(t, err)
	assert.True(t, rferrors.IsConfig(err))

	step.Cron = ""
	assert.Error(t, s.Schedule(step))
	assert.Empty(t, s.Jobs())
}

func TestTriggerNowUsesStepInputAndFreshRequestID(t *testing.T) {
	s, runner, pub := newScheduler(t)
	require.NoError(t, s.Schedule(nightly()))

	first, err := s.TriggerNow(context.Background(), "PL", "NIGHTLY")
	require.NoError(t, err)
	second, err := s.TriggerNow(context.Background(), "PL", "NIGHTLY")
	require.NoError(t, err)

	assert.NotEmpty(t, first.RequestID)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	require.Equal(t, 2, runner.calls())
	assert.Equal(t, "retail", runner.inputs[0]["portfolio"])
	assert.Len(t, pub.results, 2)

	// the catalog's default input is never mutated
	_, leaked := nightly().Input["requestId"]
	assert.False(t, leaked)
}

func TestTriggerNowUnknownStep(t *testing.T) {
	s, _, _ := newScheduler(t)
	_, err := s.TriggerNow(context.Background(), "PL", "MISSING")
	require.Error(t, err)
	assert.True(t, rferrors.IsNotFound(err))
}

func TestSyncMatchesAutomatedSteps(t *testing.T) {
	s, _, _ := newScheduler(t)
	require.NoError(t, s.Schedule(catalog.Step{ProductCode: "OLD", StepCode: "GONE", Automated: true, Cron: "@hourly"}))

	manual := catalog.Step{ProductCode: "PL", StepCode: "MANUAL"}
	require.NoError(t, s.Sync([]catalog.Step{nightly(), manual}))

	assert.Equal(t, []string{"workflow-step-PL-NIGHTLY"}, s.Jobs())
}

func TestStartFiresJobsAndStopsWithContext(t *testing.T) {
	s, runner, _ := newScheduler(t)
	step := nightly()
	step.Cron = "@every 1s"
	require.NoError(t, s.Schedule(step))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	next, ok := s.NextRun("PL", "NIGHTLY")
	require.True(t, ok)
	assert.False(t, next.IsZero())

	assert.Eventually(t, func() bool { return runner.calls() > 0 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	s.Stop()
}
