// Package validator checks operation-node ASTs against a declarative
// rule schema. The schema is loaded once at startup and is read-only
// during validation, so Validate may run concurrently over the same
// RuleSet.
package validator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArgRules maps an argument name to its allowed values. An empty value
// list means the argument is required but unconstrained.
type ArgRules map[string][]string

// RuleSet maps an operation name to its argument rules. Operations
// absent from the set are unconstrained.
type RuleSet map[string]ArgRules

// LoadRuleSet reads a rule schema file. YAML and JSON are both
// accepted (JSON is a YAML subset).
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule schema %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet parses rule schema bytes.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule schema: %w", err)
	}
	if rs == nil {
		rs = RuleSet{}
	}
	return rs, nil
}
