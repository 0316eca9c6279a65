package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	intState "github.com/gxo-labs/ruleflow/internal/state"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// completion is what a worker reports back for a finished rule.
type completion struct {
	node    *Node
	outcome rule.Outcome
	input   map[string]interface{}
}

// stepRun holds the state of one ExecuteStep invocation. The scheduling
// loop is the only goroutine that touches outcomes or publishes into the
// execution context.
type stepRun struct {
	engine   *Engine
	dag      *DAG
	variants map[string]rule.Variant
	state    *intState.ExecutionContext
	meta     runMeta
	log      rflog.Logger

	readyChan chan *Node
	workQueue chan *Node
	doneChan  chan completion

	outcomes map[string]rule.Outcome
}

func newStepRun(e *Engine, dag *DAG, variants map[string]rule.Variant, state *intState.ExecutionContext, meta runMeta, log rflog.Logger) *stepRun {
	n := len(dag.Order)
	return &stepRun{
		engine:    e,
		dag:       dag,
		variants:  variants,
		state:     state,
		meta:      meta,
		log:       log,
		readyChan: make(chan *Node, n),
		workQueue: make(chan *Node),
		doneChan:  make(chan completion, n),
		outcomes:  make(map[string]rule.Outcome, n),
	}
}

// execute runs every node of the graph and returns the outcomes collected.
// A non-nil error means the step deadline expired or ctx was cancelled
// before all rules finished; the outcomes are then partial.
func (r *stepRun) execute(ctx context.Context) (map[string]rule.Outcome, error) {
	total := len(r.dag.Order)
	if total == 0 {
		return r.outcomes, nil
	}

	poolSize := r.engine.workerPoolSize
	if poolSize > total {
		poolSize = total
	}
	var workerWg sync.WaitGroup
	workerWg.Add(poolSize)
	r.log.Debugf("Starting %d rule workers for %d rules.", poolSize, total)
	for i := 0; i < poolSize; i++ {
		go r.worker(ctx, &workerWg, i)
	}
	defer func() {
		// Workers still inside an attempt are abandoned; they exit once
		// their attempt observes the cancelled context.
		close(r.workQueue)
		go func() {
			workerWg.Wait()
			r.log.Debugf("Worker pool shutdown complete.")
		}()
	}()

	for _, node := range r.dag.Roots() {
		r.readyChan <- node
	}

	completed := 0
SchedulingLoop:
	for completed < total {
		select {
		case node := <-r.readyChan:
			if failedDep, blocked := r.blockedByDependency(node); blocked {
				r.log.Infof("Rule %s not executed: dependency %s did not succeed.", node.Name, failedDep)
				r.handleCompletion(completion{
					node: node,
					outcome: rule.Outcome{
						RuleID:       node.Desc.ID,
						RuleName:     node.Name,
						Status:       rule.StatusError,
						ErrorMessage: fmt.Sprintf("dependency %s did not succeed", failedDep),
					},
					input: r.state.GetAll(),
				})
				completed++
				continue
			}

			r.log.Debugf("Dispatching rule to worker queue: %s", node.Name)
			select {
			case r.workQueue <- node:
			case <-ctx.Done():
				break SchedulingLoop
			}

		case c := <-r.doneChan:
			r.handleCompletion(c)
			completed++

		case <-ctx.Done():
			break SchedulingLoop
		}
	}

	if completed < total {
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			r.log.Warnf("Step deadline exceeded with %d/%d rules completed.", completed, total)
			return r.outcomes, fmt.Errorf("step deadline exceeded: %d of %d rules completed", completed, total)
		}
		r.log.Warnf("Step cancelled with %d/%d rules completed: %v", completed, total, err)
		return r.outcomes, fmt.Errorf("step cancelled: %d of %d rules completed: %w", completed, total, err)
	}
	return r.outcomes, nil
}

func (r *stepRun) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	workerLog := r.log.With("worker_id", workerID)
	for node := range r.workQueue {
		workerLog.Debugf("Worker picked up rule %s", node.Name)
		r.trackWorker(1)
		input := r.state.GetAll()
		outcome := r.engine.runner.Run(ctx, r.meta, node.Desc, r.variants[node.Name], r.state)
		r.trackWorker(-1)
		r.doneChan <- completion{node: node, outcome: outcome, input: input}
	}
}

func (r *stepRun) trackWorker(delta float64) {
	if r.engine.activeWorkersGauge != nil {
		r.engine.activeWorkersGauge.Add(delta)
	}
}

// handleCompletion publishes the outcome under the rule's name and releases
// dependents whose last dependency this was.
func (r *stepRun) handleCompletion(c completion) {
	node := c.node
	r.outcomes[node.Name] = c.outcome
	if err := r.state.Publish(node.Name, c.outcome); err != nil {
		r.log.Errorf("Failed to publish outcome of rule %s: %v", node.Name, err)
	}
	r.log.Debugf("Rule %s finished with status %s in %dms.", node.Name, c.outcome.Status, c.outcome.DurationMs)
	r.engine.completeRule(r.meta, node.Desc, c.outcome, c.input)

	for _, dependent := range node.RequiredBy {
		if dependent.depsRemaining.Add(-1) == 0 {
			r.log.Debugf("Rule %s dependencies met.", dependent.Name)
			r.readyChan <- dependent
		}
	}
}

// blockedByDependency applies the strict dependency mode.
func (r *stepRun) blockedByDependency(node *Node) (string, bool) {
	if r.engine.dependencyMode != rfv1.DependencyStrict {
		return "", false
	}
	for _, dep := range node.DependsOn {
		if o, ok := r.outcomes[dep.Name]; ok && !o.Succeeded() {
			return dep.Name, true
		}
	}
	return "", false
}
