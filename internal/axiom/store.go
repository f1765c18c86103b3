// Package axiom implements the fact base and forward-chaining
// inference engine of the GeneForge core. A Store holds an append-only
// set of axiom expressions plus accumulated inference rules; Infer
// derives the closure to fixpoint.
//
// The engine is a syntactic forward chainer, not a theorem prover:
// axioms are opaque identifiers and a rule fires when its premise is
// literally present in the set.
package axiom

import (
	"sort"
	"sync"
)

// Rule is one inference rule: when Premise holds, Conclusion holds.
// Rules are accumulated and never removed.
type Rule struct {
	Premise    string `json:"premise"`
	Conclusion string `json:"conclusion"`
}

// Store holds axioms (set semantics) and rules for one logical
// session. It is safe for concurrent use; Infer is atomic with respect
// to Explain.
type Store struct {
	mu       sync.Mutex
	axioms   map[string]struct{}
	rules    []Rule
	ruleSeen map[Rule]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		axioms:   make(map[string]struct{}),
		ruleSeen: make(map[Rule]struct{}),
	}
}

// AddAxiom records an axiom. Duplicates are ignored; the empty string
// is not a valid axiom and is dropped.
func (s *Store) AddAxiom(a string) {
	if a == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.axioms[a] = struct{}{}
}

// AddAxioms records each axiom in turn.
func (s *Store) AddAxioms(axioms ...string) {
	for _, a := range axioms {
		s.AddAxiom(a)
	}
}

// AddRule records an inference rule. Duplicate rules are ignored so
// repeated registration cannot skew the pass bound.
func (s *Store) AddRule(premise, conclusion string) {
	if premise == "" || conclusion == "" {
		return
	}
	r := Rule{Premise: premise, Conclusion: conclusion}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ruleSeen[r]; dup {
		return
	}
	s.ruleSeen[r] = struct{}{}
	s.rules = append(s.rules, r)
}

// HasAxiom reports whether a is currently in the set.
func (s *Store) HasAxiom(a string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.axioms[a]
	return ok
}

// Axioms returns the current axioms in sorted order.
func (s *Store) Axioms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedAxiomsLocked()
}

// Rules returns a copy of the rules in registration order.
func (s *Store) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Explain returns the axioms in stable sorted order together with the
// rules, for reproducible diagnostics. It never mutates state.
func (s *Store) Explain() ([]string, []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := make([]Rule, len(s.rules))
	copy(rules, s.rules)
	return s.sortedAxiomsLocked(), rules
}

func (s *Store) sortedAxiomsLocked() []string {
	out := make([]string, 0, len(s.axioms))
	for a := range s.axioms {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
