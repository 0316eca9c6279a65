// Package template renders the text/template strings found in rule
// definitions (API endpoints and headers) against a step's execution context.
package template

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"

	"github.com/gxo-labs/ruleflow/internal/secrets"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rfsecrets "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/secrets"
)

// Renderer parses templates once and renders them many times. It is safe
// for concurrent use.
type Renderer struct {
	secretsProvider rfsecrets.Provider
	eventBus        events.Bus
	mu              sync.Mutex
	cache           map[string]*template.Template
}

func NewRenderer(secretsProvider rfsecrets.Provider, eventBus events.Bus) *Renderer {
	return &Renderer{
		secretsProvider: secretsProvider,
		eventBus:        eventBus,
		cache:           make(map[string]*template.Template),
	}
}

// Render executes templateString with data. Secrets resolved through the
// "secret" function are added to tracker when it is non-nil. Missing keys are
// errors.
func (r *Renderer) Render(ctx context.Context, templateString string, data interface{}, tracker *secrets.SecretTracker) (string, error) {
	if !strings.Contains(templateString, "{{") {
		return templateString, nil
	}
	t, err := r.parse(templateString)
	if err != nil {
		return "", rferrors.NewConfigError("template parse error", err)
	}
	t, err = t.Clone()
	if err != nil {
		return "", fmt.Errorf("clone template: %w", err)
	}
	t.Funcs(FuncMap(ctx, r.secretsProvider, r.eventBus, tracker))

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		msg := err.Error()
		if tracker != nil {
			msg = tracker.Scrub(msg, RedactedSecretValue)
		}
		return "", rferrors.NewValidationError("template execution error: "+msg, nil)
	}
	return buf.String(), nil
}

// Check parses templateString without executing it.
func (r *Renderer) Check(templateString string) error {
	if _, err := r.parse(templateString); err != nil {
		return rferrors.NewConfigError("template parse error", err)
	}
	return nil
}

// Variables lists the top-level context keys a template references, sorted.
// "{{ .applicant.id }}" yields "applicant".
func (r *Renderer) Variables(templateString string) ([]string, error) {
	t, err := r.parse(templateString)
	if err != nil {
		return nil, rferrors.NewConfigError("template parse error", err)
	}
	seen := make(map[string]struct{})
	if t.Tree != nil && t.Tree.Root != nil {
		collectFields(t.Tree.Root, seen)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Renderer) parse(templateString string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[templateString]; ok {
		return t, nil
	}
	// Placeholder funcs; real ones are bound per render.
	t, err := template.New("rule").Option("missingkey=error").Funcs(FuncMap(context.Background(), nil, nil, nil)).Parse(templateString)
	if err != nil {
		return nil, err
	}
	r.cache[templateString] = t
	return t, nil
}

func collectFields(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, sub := range n.Nodes {
			collectFields(sub, seen)
		}
	case *parse.ActionNode:
		collectFields(n.Pipe, seen)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			for _, arg := range cmd.Args {
				collectFields(arg, seen)
			}
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			seen[n.Ident[0]] = struct{}{}
		}
	case *parse.ChainNode:
		collectFields(n.Node, seen)
	case *parse.IfNode:
		collectFields(n.Pipe, seen)
		collectFields(n.List, seen)
		collectFields(n.ElseList, seen)
	case *parse.RangeNode:
		collectFields(n.Pipe, seen)
		collectFields(n.List, seen)
		collectFields(n.ElseList, seen)
	case *parse.WithNode:
		collectFields(n.Pipe, seen)
		collectFields(n.List, seen)
		collectFields(n.ElseList, seen)
	}
}
