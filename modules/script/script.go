// Package script implements the "script" rule variant: a CEL expression
// evaluated against the execution context.
package script

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

const (
	// ContextVar is the CEL variable holding the whole execution context.
	ContextVar = "ctx"

	DefaultCostLimit = 1000000
	interruptEvery   = 100
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reserved     = map[string]struct{}{
		"as": {}, "break": {}, "const": {}, "continue": {}, "else": {}, "false": {}, "for": {},
		"function": {}, "if": {}, "import": {}, "in": {}, "let": {}, "loop": {}, "namespace": {},
		"null": {}, "package": {}, "return": {}, "true": {}, "var": {}, "void": {}, "while": {},
	}

	mapType  = reflect.TypeOf(map[string]interface{}{})
	listType = reflect.TypeOf([]interface{}{})
)

func init() {
	module.Register(rule.KindScript, NewScriptRule)
}

// programCache holds compiled programs keyed by expression, declared
// variables and cost limit. Factories run once per step invocation, the
// compile only once per process.
var programCache sync.Map

type compiled struct {
	program cel.Program
	vars    []string
}

// ScriptRule evaluates its expression with every required key and
// dependency bound as a top-level variable, plus the full context as ctx.
// Outcomes of other rules appear as maps with status, value, error and
// fallback fields.
type ScriptRule struct {
	desc rule.Descriptor
	prog *compiled
}

// NewScriptRule compiles desc.Script. Params: costLimit (int).
func NewScriptRule(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
	expr := strings.TrimSpace(desc.Script)
	if expr == "" {
		return nil, rferrors.NewConfigError(fmt.Sprintf("script rule '%s' has an empty expression", desc.Name), nil)
	}
	costLimit, ok, err := paramutil.GetOptionalInt(desc.Params, "costLimit")
	if err != nil {
		return nil, err
	}
	if !ok || costLimit <= 0 {
		costLimit = DefaultCostLimit
	}

	vars := variableNames(desc)
	key := fmt.Sprintf("%d|%s|%s", costLimit, strings.Join(vars, ","), expr)
	if cached, found := programCache.Load(key); found {
		return &ScriptRule{desc: desc, prog: cached.(*compiled)}, nil
	}

	opts := []cel.EnvOption{cel.Variable(ContextVar, cel.MapType(cel.StringType, cel.DynType))}
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, rferrors.NewConfigError("failed to create CEL environment", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("script rule '%s' does not compile", desc.Name), issues.Err())
	}
	program, err := env.Program(ast,
		cel.CostLimit(uint64(costLimit)),
		cel.InterruptCheckFrequency(interruptEvery),
	)
	if err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("script rule '%s' program creation failed", desc.Name), err)
	}

	c := &compiled{program: program, vars: vars}
	actual, _ := programCache.LoadOrStore(key, c)
	return &ScriptRule{desc: desc, prog: actual.(*compiled)}, nil
}

// variableNames returns the sorted, de-duplicated names usable as CEL
// identifiers. Other keys stay reachable through ctx["..."].
func variableNames(desc rule.Descriptor) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, group := range [][]string{desc.RequiredKeys, desc.DependsOn} {
		for _, n := range group {
			if n == ContextVar || !identPattern.MatchString(n) {
				continue
			}
			if _, isReserved := reserved[n]; isReserved {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (s *ScriptRule) Kind() string { return rule.KindScript }

func (s *ScriptRule) ValidateInput(input state.Reader) error {
	return paramutil.RequireKeys(input, s.desc.RequiredKeys...)
}

func (s *ScriptRule) Execute(ctx context.Context, input state.Reader) (interface{}, error) {
	all := input.GetAll()
	converted := make(map[string]interface{}, len(all))
	for k, v := range all {
		converted[k] = toCEL(v)
	}
	activation := map[string]interface{}{ContextVar: converted}
	for _, name := range s.prog.vars {
		if v, ok := converted[name]; ok {
			activation[name] = v
		}
	}

	out, _, err := s.prog.program.ContextEval(ctx, activation)
	if err != nil {
		return nil, err
	}
	return toNative(out)
}

// toCEL rewrites values CEL cannot adapt natively.
func toCEL(v interface{}) interface{} {
	switch val := v.(type) {
	case rule.Outcome:
		return map[string]interface{}{
			"status":   string(val.Status),
			"value":    toCEL(val.Value),
			"error":    val.ErrorMessage,
			"fallback": val.Fallback,
		}
	case *rule.Outcome:
		if val == nil {
			return nil
		}
		return toCEL(*val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = toCEL(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toCEL(item)
		}
		return out
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

func toNative(v ref.Val) (interface{}, error) {
	switch v.(type) {
	case traits.Mapper:
		return v.ConvertToNative(mapType)
	case traits.Lister:
		return v.ConvertToNative(listType)
	default:
		return v.Value(), nil
	}
}
