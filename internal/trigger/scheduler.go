// Package trigger runs automated workflow steps on their cron schedules.
package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/gxo-labs/ruleflow/internal/catalog"
	"github.com/gxo-labs/ruleflow/internal/transport"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

// StepRunner executes one workflow step.
type StepRunner interface {
	ExecuteStep(ctx context.Context, productCode, stepCode string, input map[string]interface{}) *rfv1.StepResult
}

// JobName is the identifier of the cron job for a workflow step.
func JobName(productCode, stepCode string) string {
	return fmt.Sprintf("workflow-step-%s-%s", productCode, stepCode)
}

type job struct {
	id   cron.EntryID
	step catalog.Step
}

// Scheduler maps automated workflow steps to cron entries. A run executes
// the step with its default input and a fresh request id, then publishes
// the result. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron      *cron.Cron
	runner    StepRunner
	publisher transport.Publisher
	log       rflog.Logger

	mu      sync.Mutex
	jobs    map[string]job
	baseCtx context.Context
	running bool
}

func NewScheduler(runner StepRunner, publisher transport.Publisher, log rflog.Logger) (*Scheduler, error) {
	if runner == nil || publisher == nil || log == nil {
		return nil, rferrors.NewConfigError("trigger scheduler requires a runner, a publisher and a logger", nil)
	}
	log = log.With("component", "TriggerScheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:    runner,
		publisher: publisher,
		log:       log,
		jobs:      make(map[string]job),
		baseCtx:   context.Background(),
	}, nil
}

// Schedule adds or replaces the job of step.
func (s *Scheduler) Schedule(step catalog.Step) error {
	if step.Cron == "" {
		return rferrors.NewConfigError(fmt.Sprintf("step '%s' has no cron expression", step.Key()), nil)
	}
	if _, err := cron.ParseStandard(step.Cron); err != nil {
		return rferrors.NewConfigError(fmt.Sprintf("invalid cron schedule %q for step '%s'", step.Cron, step.Key()), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := JobName(step.ProductCode, step.StepCode)
	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.id)
	}
	id, err := s.cron.AddFunc(step.Cron, func() {
		s.mu.Lock()
		ctx := s.baseCtx
		s.mu.Unlock()
		if _, err := s.run(ctx, step); err != nil {
			s.log.Errorf("Scheduled run of %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs[name] = job{id: id, step: step}
	s.log.Infof("Scheduled %s with '%s'.", name, step.Cron)
	return nil
}

// Unschedule removes the job of a step and reports whether it existed.
func (s *Scheduler) Unschedule(productCode, stepCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := JobName(productCode, stepCode)
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(j.id)
	delete(s.jobs, name)
	s.log.Infof("Unscheduled %s.", name)
	return true
}

func (s *Scheduler) IsScheduled(productCode, stepCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[JobName(productCode, stepCode)]
	return ok
}

// Jobs lists scheduled job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NextRun reports when a scheduled step runs next. It is zero until the
// scheduler is started.
func (s *Scheduler) NextRun(productCode, stepCode string) (time.Time, bool) {
	s.mu.Lock()
	j, ok := s.jobs[JobName(productCode, stepCode)]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(j.id).Next, true
}

// Sync makes the schedule match the automated steps of a (reloaded)
// catalog.
func (s *Scheduler) Sync(steps []catalog.Step) error {
	want := make(map[string]catalog.Step)
	for _, st := range steps {
		if st.Automated && st.Cron != "" {
			want[JobName(st.ProductCode, st.StepCode)] = st
		}
	}

	s.mu.Lock()
	var stale []catalog.Step
	for name, j := range s.jobs {
		if _, keep := want[name]; !keep {
			stale = append(stale, j.step)
		}
	}
	s.mu.Unlock()

	for _, st := range stale {
		s.Unschedule(st.ProductCode, st.StepCode)
	}
	var firstErr error
	for _, st := range want {
		if err := s.Schedule(st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TriggerNow runs a scheduled step immediately, outside its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, productCode, stepCode string) (*rfv1.StepResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[JobName(productCode, stepCode)]
	s.mu.Unlock()
	if !ok {
		return nil, rferrors.NewNotFoundError("scheduled step", JobName(productCode, stepCode))
	}
	return s.run(ctx, j.step)
}

func (s *Scheduler) run(ctx context.Context, step catalog.Step) (*rfv1.StepResult, error) {
	input := make(map[string]interface{}, len(step.Input)+1)
	for k, v := range step.Input {
		input[k] = v
	}
	input["requestId"] = uuid.NewString()

	result := s.runner.ExecuteStep(ctx, step.ProductCode, step.StepCode, input)
	if err := s.publisher.Publish(ctx, result); err != nil {
		return result, fmt.Errorf("failed to publish result: %w", err)
	}
	return result, nil
}

// Start begins firing jobs. Runs use ctx and the scheduler stops when it
// is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.baseCtx = ctx
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.log.Infof("Trigger scheduler started with %d jobs.", len(s.Jobs()))
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Infof("Trigger scheduler stopped.")
}

// cronLogger adapts the ruleflow logger to cron.Logger.
type cronLogger struct {
	log rflog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("cron: %s %v: %v", msg, keysAndValues, err)
}
