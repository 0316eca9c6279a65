package engine

import (
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// aggregate fills result with the outcomes in topological order. Rules that
// never finished are left out. The step is approved only when no outcome
// has status ERROR or TIMEOUT.
func aggregate(result *rfv1.StepResult, dag *DAG, outcomes map[string]rule.Outcome) {
	results := make([]rule.Outcome, 0, len(outcomes))
	approved := true
	for _, node := range dag.Order {
		o, ok := outcomes[node.Name]
		if !ok {
			continue
		}
		if o.Status == rule.StatusError || o.Status == rule.StatusTimeout {
			approved = false
		}
		results = append(results, o)
	}
	result.RuleResults = results
	result.Approved = approved
}
