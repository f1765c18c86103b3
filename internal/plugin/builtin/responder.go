package builtin

import (
	"context"
	"fmt"
	"strings"

	"geneforge/internal/plugin"
	"geneforge/internal/types"
)

// Response is one entry of the responder's matching table: an explicit
// (predicate, response) pair. The table is data, not control flow, so
// the matching policy stays testable and extensible without code
// changes.
type Response struct {
	// Match reports whether this entry applies to the text.
	Match func(text string) bool

	// Keyword documents the entry for diagnostics.
	Keyword string

	// Reply is appended to the payload when the entry matches.
	Reply string
}

// Keyword builds the common case: a case-insensitive substring match.
func Keyword(word, reply string) Response {
	lower := strings.ToLower(word)
	return Response{
		Match:   func(text string) bool { return strings.Contains(strings.ToLower(text), lower) },
		Keyword: word,
		Reply:   reply,
	}
}

// DefaultResponses is the shipped table, evaluated in order; the first
// matching entry wins.
var DefaultResponses = []Response{
	Keyword("mutation", "[responder:flagged-mutation]"),
	Keyword("crispr", "[responder:crispr-workflow]"),
	Keyword("simulate", "[responder:simulation-requested]"),
}

// Responder appends the reply of the first matching table entry to the
// payload. No entry matching leaves the payload unchanged.
type Responder struct {
	table []Response
}

// NewResponder creates a responder over an explicit ordered table.
func NewResponder(table []Response) *Responder {
	return &Responder{table: table}
}

func (r *Responder) Name() string      { return "responder" }
func (r *Responder) Activate() error   { return nil }
func (r *Responder) Deactivate() error { return nil }

func (r *Responder) Evaluate(_ context.Context, text string) (string, error) {
	for _, entry := range r.table {
		if entry.Match(text) {
			return text + entry.Reply, nil
		}
	}
	return text, nil
}

// Execute supports one method:
//
//	respond(text string) -> string (the reply, empty when no match)
func (r *Responder) Execute(_ context.Context, method string, params map[string]any, _ *types.SymbolTable) (any, error) {
	if method != "respond" {
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownMethod, method)
	}
	raw, ok := params["text"]
	if !ok {
		return nil, fmt.Errorf("%w: text", plugin.ErrMissingParameter)
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("parameter text must be a string, got %T", raw)
	}

	for _, entry := range r.table {
		if entry.Match(text) {
			return entry.Reply, nil
		}
	}
	return "", nil
}
