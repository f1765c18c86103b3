package builtin

import (
	"context"
	"fmt"
	"strings"

	"geneforge/internal/plugin"
	"geneforge/internal/types"
)

// SequenceNormalizer is a pipeline capability that canonicalizes
// sequence payloads: whitespace stripped, residue letters uppercased.
// Annotation segments appended by earlier plugins (bracketed) are left
// untouched.
type SequenceNormalizer struct{}

// NewSequenceNormalizer is the registered constructor.
func NewSequenceNormalizer(_ map[string]string) (plugin.Capability, error) {
	return &SequenceNormalizer{}, nil
}

func (s *SequenceNormalizer) Name() string      { return "sequence_normalizer" }
func (s *SequenceNormalizer) Activate() error   { return nil }
func (s *SequenceNormalizer) Deactivate() error { return nil }

func (s *SequenceNormalizer) Evaluate(_ context.Context, text string) (string, error) {
	seq, annotations := splitAnnotations(text)
	var b strings.Builder
	for _, r := range seq {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String()) + annotations, nil
}

func (s *SequenceNormalizer) Execute(_ context.Context, method string, _ map[string]any, _ *types.SymbolTable) (any, error) {
	return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownMethod, method)
}

// splitAnnotations separates the raw payload from the bracketed
// annotation suffix earlier pipeline stages may have appended.
func splitAnnotations(text string) (string, string) {
	idx := strings.Index(text, "[")
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx:]
}
