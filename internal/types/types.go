// Package types defines the shared data model for the GeneForge core
// pipeline: operation nodes handed down by the upstream parser, and the
// symbol table shared across one dispatch run.
package types

// OperationNode is one workflow step: an operation name plus its
// arguments. Nodes are produced upstream and treated as immutable once
// they pass validation.
type OperationNode struct {
	Operation string         `json:"operation" yaml:"operation"`
	Args      map[string]any `json:"args" yaml:"args"`
}

// Arg returns the named argument and whether it is present.
func (n OperationNode) Arg(key string) (any, bool) {
	v, ok := n.Args[key]
	return v, ok
}

// StringArg returns the named argument as a string. Non-string values
// and absent keys report ok=false.
func (n OperationNode) StringArg(key string) (string, bool) {
	v, ok := n.Args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
