// Content templates and the stateful, history-biased selector which picks between them.
package templates

import (
	"fmt"
	"regexp"
)

type Operator string

const (
	OpContains    Operator = "contains"
	OpEquals      Operator = "equals"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpMatches     Operator = "matches"
)

// A predicate on one context field.
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value" json:"value"`
}

// One candidate template in a group. Body is handed to the generation oracle as-is. A nil
// Probability is treated as 1.
type Variation struct {
	Name        string         `yaml:"name" json:"name"`
	Conditions  []Condition    `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Probability *float64       `yaml:"probability,omitempty" json:"probability,omitempty"`
	Body        string         `yaml:"body" json:"body"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

func (v *Variation) EffectiveProbability() float64 {
	if v.Probability == nil {
		return 1
	}
	return *v.Probability
}

// Template groups keyed by group name. Read-only once loaded, and shared between schedulers.
type Catalog map[string][]Variation

func (v *Variation) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if v.Probability != nil && (*v.Probability < 0 || *v.Probability > 1) {
		return fmt.Errorf("template %q: probability out of range: %v", v.Name, *v.Probability)
	}
	for _, c := range v.Conditions {
		if c.Field == "" {
			return fmt.Errorf("template %q: condition without field", v.Name)
		}
		switch c.Operator {
		case OpContains, OpEquals, OpGreaterThan, OpLessThan:
		case OpMatches:
			if _, err := regexp.Compile(fmt.Sprint(c.Value)); err != nil {
				return fmt.Errorf("template %q: bad pattern for %s: %w", v.Name, c.Field, err)
			}
		default:
			return fmt.Errorf("template %q: unknown operator %q", v.Name, c.Operator)
		}
	}
	return nil
}

// Checks every group: names must be unique within a group, and each variation valid.
func (c Catalog) Validate() error {
	for group, vars := range c {
		seen := make(map[string]bool, len(vars))
		for i := range vars {
			if err := vars[i].Validate(); err != nil {
				return fmt.Errorf("group %q: %w", group, err)
			}
			if seen[vars[i].Name] {
				return fmt.Errorf("group %q: duplicate template name %q", group, vars[i].Name)
			}
			seen[vars[i].Name] = true
		}
	}
	return nil
}
