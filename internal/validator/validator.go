package validator

import (
	"fmt"
	"sort"
	"strings"

	"geneforge/internal/types"
)

// ValidationError reports the first schema violation found in an AST,
// in document order. It blocks execution of the whole workflow.
type ValidationError struct {
	// Index is the position of the offending node in the AST.
	Index int

	// Operation is the offending node's operation name.
	Operation string

	// Key is the argument that is missing or has a disallowed value.
	Key string

	// Missing is true when Key is absent from the node's arguments.
	Missing bool

	// Value is the actual argument value when Missing is false.
	Value any

	// Allowed lists the permitted values for Key, when constrained.
	Allowed []string
}

func (e *ValidationError) Error() string {
	if e.Missing {
		return fmt.Sprintf("operation %q (node %d): missing required argument %q",
			e.Operation, e.Index, e.Key)
	}
	return fmt.Sprintf("operation %q (node %d): invalid value %q for argument %q (allowed: %s)",
		e.Operation, e.Index, e.Key, valueString(e.Value), strings.Join(e.Allowed, ", "))
}

// Validate checks every node against the rule set and returns the
// first violation in AST order, or nil. It is a pure function: no
// side effects, identical verdicts on repeated and concurrent calls.
func Validate(ast []types.OperationNode, rules RuleSet) error {
	for i, node := range ast {
		argRules, ok := rules[node.Operation]
		if !ok {
			continue // no constraints for this operation
		}

		// Map iteration order is randomized; sort keys so the first
		// reported violation is stable across runs.
		keys := make([]string, 0, len(argRules))
		for k := range argRules {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			allowed := argRules[key]

			value, present := node.Args[key]
			if !present {
				return &ValidationError{
					Index:     i,
					Operation: node.Operation,
					Key:       key,
					Missing:   true,
					Allowed:   allowed,
				}
			}

			if len(allowed) == 0 {
				continue // required but unconstrained
			}

			if !contains(allowed, valueString(value)) {
				return &ValidationError{
					Index:     i,
					Operation: node.Operation,
					Key:       key,
					Value:     value,
					Allowed:   allowed,
				}
			}
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// valueString renders an argument value for membership checks and
// error messages. Allowed values in the schema are strings, so
// non-string node values compare through their canonical rendering.
func valueString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
