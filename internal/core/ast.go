package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"geneforge/internal/types"
)

// LoadAST reads an AST document: an ordered sequence of operation
// nodes, in YAML or JSON. The parser producing richer source-level
// ASTs lives upstream; this loader only accepts the already-shaped
// node sequence.
func LoadAST(path string) ([]types.OperationNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read AST file %s: %w", path, err)
	}
	return ParseAST(data)
}

// ParseAST parses AST document bytes.
func ParseAST(data []byte) ([]types.OperationNode, error) {
	var nodes []types.OperationNode
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse AST document: %w", err)
	}
	for i, node := range nodes {
		if node.Operation == "" {
			return nil, fmt.Errorf("AST node %d has no operation name", i)
		}
	}
	return nodes, nil
}
