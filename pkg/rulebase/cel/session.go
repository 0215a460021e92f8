package cel

import (
	"context"
	"fmt"
	"sync"

	"mercator-hq/forseti/pkg/rulebase"
)

// sessionFactory creates sessions bound to one set of compiled rules.
type sessionFactory struct {
	rules []compiledRule
}

// NewSession implements rulebase.SessionFactory.
func (f *sessionFactory) NewSession(_ context.Context) (rulebase.Session, error) {
	return &session{rules: f.rules}, nil
}

// session holds the inserted facts for one evaluation lifecycle. It is
// exclusively leased by the pool, so fact access needs no locking; the
// mutex only guards the closed flag, which a forced disposal may flip from
// another goroutine.
type session struct {
	rules []compiledRule
	facts []any

	mu     sync.Mutex
	closed bool
}

// Insert implements rulebase.Session. Facts are kept in insertion order.
func (s *session) Insert(ctx context.Context, fact any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return fmt.Errorf("session is closed")
	}
	s.facts = append(s.facts, fact)
	return nil
}

// Fire implements rulebase.Session. Each rule's condition is evaluated
// against the full fact list; for each match, the rule's outputs are
// computed and collected in rule declaration order. A non-empty
// rulePackage fires only rules whose source declared that package; a
// package no rule declares yields no outputs.
func (s *session) Fire(ctx context.Context, rulePackage string) ([]rulebase.Output, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("session is closed")
	}

	activation := map[string]any{FactsVariable: s.facts}

	var outputs []rulebase.Output
	for _, rule := range s.rules {
		if rulePackage != "" && rule.pkg != rulePackage {
			continue
		}
		matched, _, err := rule.when.ContextEval(ctx, activation)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rule %q condition failed: %w", rule.name, err)
		}

		hit, ok := matched.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("rule %q condition returned %T, want bool", rule.name, matched.Value())
		}
		if !hit {
			continue
		}

		for _, out := range rule.outputs {
			val, _, err := out.program.ContextEval(ctx, activation)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("rule %q output %q failed: %w", rule.name, out.name, err)
			}
			outputs = append(outputs, rulebase.Output{
				Rule:  rule.name,
				Name:  out.name,
				Value: val.Value(),
			})
		}
	}

	return outputs, nil
}

// Reset implements rulebase.Session.
func (s *session) Reset() error {
	if s.isClosed() {
		return fmt.Errorf("session is closed")
	}
	s.facts = s.facts[:0]
	return nil
}

// Close implements rulebase.Session. Repeated calls are no-ops.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.facts = nil
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
