package config

import (
	"fmt"
	"regexp"

	"github.com/gxo-labs/ruleflow/modules/composite"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/robfig/cron/v3"
)

// Rule names are context keys and script variables.
var ruleNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var codeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCatalogStructure checks what the JSON schema cannot express:
// uniqueness, cross references, durations and cron syntax. It returns every
// problem found.
func ValidateCatalogStructure(c *Catalog, kinds KindLookup) []error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, rferrors.NewValidationError(fmt.Sprintf(format, args...), nil))
	}

	if len(c.Rules) == 0 {
		add("catalog must define at least one rule in 'rules'")
	}

	byID := make(map[string]*RuleConfig, len(c.Rules))
	byName := make(map[string]*RuleConfig, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		display := fmt.Sprintf("rule %d", i)
		if r.Name != "" {
			display = fmt.Sprintf("rule %d ('%s')", i, r.Name)
		}

		if r.ID == "" {
			add("%s: 'id' is required", display)
		} else if _, dup := byID[r.ID]; dup {
			add("%s: duplicate rule id '%s'", display, r.ID)
		} else {
			byID[r.ID] = r
		}

		switch {
		case r.Name == "":
			add("%s: 'name' is required", display)
		case !ruleNameRegex.MatchString(r.Name):
			add("%s: name must be an identifier (letters, digits, underscore)", display)
		default:
			if _, dup := byName[r.Name]; dup {
				add("%s: duplicate rule name", display)
			}
			byName[r.Name] = r
		}

		if r.Type == "" {
			add("%s: 'type' is required", display)
		} else if kinds != nil {
			if _, err := kinds.Get(r.Type); err != nil {
				add("%s: unknown rule type '%s'", display, r.Type)
			}
		}

		if r.MaxRetries < 0 {
			add("%s: 'maxRetries' cannot be negative", display)
		}
		if _, err := r.Descriptor(); err != nil {
			add("%s: %v", display, err)
		}
		for _, dep := range r.DependsOn {
			if dep == r.Name {
				add("%s: rule cannot depend on itself", display)
			}
		}
	}

	// Second pass, once every rule is indexed.
	for i := range c.Rules {
		r := &c.Rules[i]
		for _, dep := range r.DependsOn {
			if _, ok := byName[dep]; !ok && dep != r.Name {
				add("rule '%s': dependency '%s' is not a defined rule name", r.Name, dep)
			}
		}
		if r.Type == rule.KindComposite {
			ids := composite.ParseIDs(r.Script)
			if len(ids) == 0 {
				add("rule '%s': composite script lists no sub-rule ids", r.Name)
			}
			for _, id := range ids {
				if id == r.ID {
					add("rule '%s': composite cannot include itself", r.Name)
				} else if _, ok := byID[id]; !ok {
					add("rule '%s': composite sub-rule id '%s' is not defined", r.Name, id)
				}
			}
		}
	}

	productCodes := make(map[string]bool)
	for _, p := range c.Products {
		if !codeRegex.MatchString(p.Code) {
			add("product '%s': code contains invalid characters (allowed: alphanumeric, underscore, hyphen)", p.Code)
		}
		if productCodes[p.Code] {
			add("product '%s': duplicate product code", p.Code)
		}
		productCodes[p.Code] = true

		stepCodes := make(map[string]bool)
		for _, s := range p.Steps {
			display := fmt.Sprintf("step '%s/%s'", p.Code, s.Code)
			if !codeRegex.MatchString(s.Code) {
				add("%s: code contains invalid characters", display)
			}
			if stepCodes[s.Code] {
				add("%s: duplicate step code", display)
			}
			stepCodes[s.Code] = true

			inStep := make(map[string]bool, len(s.Rules))
			for _, id := range s.Rules {
				r, ok := byID[id]
				if !ok {
					add("%s: rule id '%s' is not defined", display, id)
					continue
				}
				if inStep[r.Name] {
					add("%s: rule id '%s' listed twice", display, id)
				}
				inStep[r.Name] = true
			}
			for _, id := range s.Rules {
				r, ok := byID[id]
				if !ok {
					continue
				}
				for _, dep := range r.DependsOn {
					if _, defined := byName[dep]; defined && !inStep[dep] {
						add("%s: rule '%s' depends on '%s', which is not part of the step", display, r.Name, dep)
					}
				}
			}

			if s.Cron != "" {
				if _, err := cron.ParseStandard(s.Cron); err != nil {
					add("%s: invalid cron expression '%s': %v", display, s.Cron, err)
				}
				if !s.Automated {
					add("%s: 'cron' is set but the step is not automated", display)
				}
			}
		}
	}

	if c.Policy != nil {
		if _, err := c.Policy.ExecutionPolicy(); err != nil {
			add("policy: %v", err)
		}
	}
	return errs
}
