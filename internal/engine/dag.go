package engine

import (
	"fmt"
	"sync/atomic"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// Node is one rule in the dependency graph of a step invocation.
type Node struct {
	Desc *rule.Descriptor
	Name string
	// Order is the node's position in the topological order.
	Order int

	DependsOn  []*Node
	RequiredBy []*Node

	depsRemaining atomic.Int32
}

// DAG is built fresh for every step invocation and discarded afterwards.
type DAG struct {
	Nodes map[string]*Node
	// Order lists every node so that dependencies precede dependents. Ties
	// follow the input order, so equal inputs always give equal orders.
	Order []*Node
}

// Dependencies returns the direct dependency names of ruleName.
func (d *DAG) Dependencies(ruleName string) []string {
	n, ok := d.Nodes[ruleName]
	if !ok {
		return nil
	}
	names := make([]string, len(n.DependsOn))
	for i, dep := range n.DependsOn {
		names[i] = dep.Name
	}
	return names
}

// Names returns the rule names in topological order.
func (d *DAG) Names() []string {
	names := make([]string, len(d.Order))
	for i, n := range d.Order {
		names[i] = n.Name
	}
	return names
}

// Roots returns the nodes without dependencies, in topological order.
func (d *DAG) Roots() []*Node {
	var roots []*Node
	for _, n := range d.Order {
		if len(n.DependsOn) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Resolve builds the graph for rules with a depth-first topological sort.
// Dependencies naming a rule in ignored (e.g. an inactive rule of the same
// step) are dropped. It fails with a CyclicDependencyError when a rule is
// reached again while on the recursion stack and with an
// UnknownDependencyError when a dependency names no rule in the list.
func Resolve(rules []*rule.Descriptor, ignored map[string]struct{}) (*DAG, error) {
	dag := &DAG{Nodes: make(map[string]*Node, len(rules)), Order: make([]*Node, 0, len(rules))}
	for _, desc := range rules {
		if desc.Name == "" {
			return nil, rferrors.NewConfigError(fmt.Sprintf("rule '%s' has no name", desc.ID), nil)
		}
		if _, dup := dag.Nodes[desc.Name]; dup {
			return nil, rferrors.NewConfigError(fmt.Sprintf("duplicate rule name '%s' in step", desc.Name), nil)
		}
		dag.Nodes[desc.Name] = &Node{Desc: desc, Name: desc.Name}
	}

	visited := make(map[string]bool, len(rules))
	temp := make(map[string]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if temp[n.Name] {
			return rferrors.NewCyclicDependencyError(n.Name)
		}
		if visited[n.Name] {
			return nil
		}
		temp[n.Name] = true
		seen := make(map[string]bool, len(n.Desc.DependsOn))
		for _, depName := range n.Desc.DependsOn {
			if seen[depName] {
				continue
			}
			seen[depName] = true
			if _, skip := ignored[depName]; skip {
				if _, alsoActive := dag.Nodes[depName]; !alsoActive {
					continue
				}
			}
			dep, ok := dag.Nodes[depName]
			if !ok {
				return rferrors.NewUnknownDependencyError(n.Name, depName)
			}
			if err := visit(dep); err != nil {
				return err
			}
			n.DependsOn = append(n.DependsOn, dep)
			dep.RequiredBy = append(dep.RequiredBy, n)
		}
		delete(temp, n.Name)
		visited[n.Name] = true
		n.Order = len(dag.Order)
		dag.Order = append(dag.Order, n)
		return nil
	}

	for _, desc := range rules {
		if err := visit(dag.Nodes[desc.Name]); err != nil {
			return nil, err
		}
	}
	for _, n := range dag.Nodes {
		n.depsRemaining.Store(int32(len(n.DependsOn)))
	}
	return dag, nil
}
