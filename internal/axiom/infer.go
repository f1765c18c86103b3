package axiom

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"geneforge/internal/logging"
)

// InferenceResult summarizes one Infer call.
type InferenceResult struct {
	// Added lists the newly derived axioms in sorted order.
	Added []string `json:"added"`

	// Passes is the number of full rule passes executed, including
	// the final pass that derived nothing.
	Passes int `json:"passes"`
}

// NonTerminationError reports that the defensive pass bound was
// exceeded. Given the monotonicity invariant this cannot happen with a
// well-formed store; it signals corrupted state, not a retryable
// condition. The full axiom and rule dump is attached for diagnosis.
type NonTerminationError struct {
	Passes int
	Bound  int
	Axioms []string
	Rules  []Rule
}

func (e *NonTerminationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "inference exceeded defensive pass bound (%d passes, bound %d); malformed rule set?", e.Passes, e.Bound)
	fmt.Fprintf(&b, "\naxioms: %s", strings.Join(e.Axioms, ", "))
	for _, r := range e.Rules {
		fmt.Fprintf(&b, "\nrule: %s => %s", r.Premise, r.Conclusion)
	}
	return b.String()
}

// Infer runs naive forward chaining to fixpoint: full passes over all
// rules, adding each rule's conclusion when its premise holds and the
// conclusion does not yet; a pass that adds nothing ends the run.
//
// The axiom set only ever grows during the call and is bounded above
// by the distinct conclusions in the rule set, so at most that many
// passes can add axioms. maxPasses > 0 overrides the computed bound.
// Calling Infer again immediately after a fixpoint derives nothing.
func (s *Store) Infer(maxPasses int) (InferenceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bound := maxPasses
	if bound <= 0 {
		bound = s.distinctConclusionsLocked() + 1
	}

	var added []string
	passes := 0
	for {
		passes++
		if passes > bound {
			err := &NonTerminationError{
				Passes: passes,
				Bound:  bound,
				Axioms: s.sortedAxiomsLocked(),
				Rules:  append([]Rule(nil), s.rules...),
			}
			logging.For(logging.CategoryInference).Error("forward chaining did not terminate",
				zap.Int("passes", passes),
				zap.Int("bound", bound))
			return InferenceResult{Added: added, Passes: passes}, err
		}

		derived := 0
		for _, r := range s.rules {
			if _, holds := s.axioms[r.Premise]; !holds {
				continue
			}
			if _, known := s.axioms[r.Conclusion]; known {
				continue
			}
			s.axioms[r.Conclusion] = struct{}{}
			added = append(added, r.Conclusion)
			derived++
		}

		if derived == 0 {
			break
		}
	}

	sort.Strings(added)
	logging.For(logging.CategoryInference).Debug("inference reached fixpoint",
		zap.Int("passes", passes),
		zap.Int("derived", len(added)),
		zap.Int("axioms", len(s.axioms)))
	return InferenceResult{Added: added, Passes: passes}, nil
}

// distinctConclusionsLocked counts the distinct conclusions across all
// rules, the upper bound on productive passes.
func (s *Store) distinctConclusionsLocked() int {
	seen := make(map[string]struct{}, len(s.rules))
	for _, r := range s.rules {
		seen[r.Conclusion] = struct{}{}
	}
	return len(seen)
}
