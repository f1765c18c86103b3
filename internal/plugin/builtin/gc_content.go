package builtin

import (
	"context"
	"fmt"
	"strings"

	"geneforge/internal/plugin"
	"geneforge/internal/types"
)

// GCContent computes the GC fraction of a nucleotide sequence. It
// serves both dispatch modes: the pipeline appends a gc annotation to
// the payload, and the "gc_content" method returns the raw fraction.
type GCContent struct{}

// NewGCContent is the registered constructor.
func NewGCContent(_ map[string]string) (plugin.Capability, error) {
	return &GCContent{}, nil
}

func (g *GCContent) Name() string      { return "gc_content" }
func (g *GCContent) Activate() error   { return nil }
func (g *GCContent) Deactivate() error { return nil }

func (g *GCContent) Evaluate(_ context.Context, text string) (string, error) {
	seq, _ := splitAnnotations(text)
	return text + fmt.Sprintf("[gc=%.3f]", gcFraction(seq)), nil
}

// Execute supports one method:
//
//	gc_content(sequence string) -> float64
func (g *GCContent) Execute(_ context.Context, method string, params map[string]any, symbols *types.SymbolTable) (any, error) {
	if method != "gc_content" {
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownMethod, method)
	}

	raw, ok := params["sequence"]
	if !ok {
		return nil, fmt.Errorf("%w: sequence", plugin.ErrMissingParameter)
	}
	seq, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("parameter sequence must be a string, got %T", raw)
	}

	fraction := gcFraction(seq)
	if symbols != nil {
		symbols.Set("gc_content", fraction)
	}
	return fraction, nil
}

// gcFraction counts G and C residues over all recognized residues.
// Non-residue characters are ignored; an empty sequence is 0.
func gcFraction(seq string) float64 {
	var gc, total int
	for _, r := range strings.ToUpper(seq) {
		switch r {
		case 'G', 'C':
			gc++
			total++
		case 'A', 'T', 'U', 'N':
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(gc) / float64(total)
}
