package axiom

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// CrossCheckResult reports a differential comparison between the naive
// forward chainer and a Datalog re-derivation of the same closure.
type CrossCheckResult struct {
	// NaiveOnly lists axioms derived by the forward chainer but not
	// by the Datalog engine, sorted.
	NaiveOnly []string `json:"naive_only"`

	// DatalogOnly lists axioms derived by the Datalog engine but not
	// by the forward chainer, sorted.
	DatalogOnly []string `json:"datalog_only"`
}

// Agree reports whether both derivations produced the same closure.
func (r CrossCheckResult) Agree() bool {
	return len(r.NaiveOnly) == 0 && len(r.DatalogOnly) == 0
}

// CrossCheck re-derives the transitive closure of the store through
// the Mangle Datalog engine and compares it against the naive forward
// chainer's result. Both derivations run on a snapshot; the store is
// not mutated. A divergence indicates a chainer bug or a malformed
// rule set and is surfaced through the result, not an error.
func (s *Store) CrossCheck(ctx context.Context) (CrossCheckResult, error) {
	s.mu.Lock()
	axioms := s.sortedAxiomsLocked()
	rules := append([]Rule(nil), s.rules...)
	s.mu.Unlock()

	naive := naiveClosure(axioms, rules)

	datalog, err := datalogClosure(ctx, axioms, rules)
	if err != nil {
		return CrossCheckResult{}, err
	}

	return diffClosures(naive, datalog), nil
}

// naiveClosure runs the same algorithm as Infer on a detached copy.
func naiveClosure(axioms []string, rules []Rule) map[string]struct{} {
	set := make(map[string]struct{}, len(axioms))
	for _, a := range axioms {
		set[a] = struct{}{}
	}
	for {
		derived := 0
		for _, r := range rules {
			if _, holds := set[r.Premise]; !holds {
				continue
			}
			if _, known := set[r.Conclusion]; known {
				continue
			}
			set[r.Conclusion] = struct{}{}
			derived++
		}
		if derived == 0 {
			return set
		}
	}
}

// datalogClosure encodes axioms as holds/1 facts, rules as implies/2
// facts and derives the closure with a single transitive rule:
//
//	holds(Y) :- implies(X, Y), holds(X).
func datalogClosure(ctx context.Context, axioms []string, rules []Rule) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(axioms))
	for _, a := range axioms {
		set[a] = struct{}{}
	}
	if len(rules) == 0 {
		return set, nil
	}

	var b strings.Builder
	for _, a := range axioms {
		fmt.Fprintf(&b, "holds(%s).\n", strconv.Quote(a))
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "implies(%s, %s).\n", strconv.Quote(r.Premise), strconv.Quote(r.Conclusion))
	}
	b.WriteString("holds(Y) :- implies(X, Y), holds(X).\n")

	unit, err := parse.Unit(bytes.NewReader([]byte(b.String())))
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated datalog program: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze generated datalog program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()

	// Evaluation is CPU-bound but unbounded in principle; honor the
	// caller's deadline the same way plugin execution does.
	errCh := make(chan error, 1)
	go func() {
		_, evalErr := mengine.EvalProgramWithStats(programInfo, store)
		errCh <- evalErr
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("datalog evaluation failed: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("datalog evaluation cancelled: %w", ctx.Err())
	}

	closure := make(map[string]struct{})
	for _, sym := range store.ListPredicates() {
		if sym.Symbol != "holds" {
			continue
		}
		err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
			if len(atom.Args) != 1 {
				return nil
			}
			if c, ok := atom.Args[0].(ast.Constant); ok {
				closure[c.Symbol] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read derived facts: %w", err)
		}
	}
	return closure, nil
}

func diffClosures(naive, datalog map[string]struct{}) CrossCheckResult {
	var result CrossCheckResult
	for a := range naive {
		if _, ok := datalog[a]; !ok {
			result.NaiveOnly = append(result.NaiveOnly, a)
		}
	}
	for a := range datalog {
		if _, ok := naive[a]; !ok {
			result.DatalogOnly = append(result.DatalogOnly, a)
		}
	}
	sort.Strings(result.NaiveOnly)
	sort.Strings(result.DatalogOnly)
	return result
}
