// Package cel implements the rule compiler on top of CEL
// (github.com/google/cel-go).
//
// Rule sources are YAML documents declaring named rules. Each rule has a
// CEL condition over the inserted facts and a set of named output
// expressions evaluated when the condition holds:
//
//	package: pricing
//	rules:
//	  - name: bulk-discount
//	    when: 'facts.exists(f, f.type == "order" && f.quantity >= 100)'
//	    outputs:
//	      - name: discount_rate
//	        expr: '0.15'
//
// The declared package groups the document's rules; a session can fire a
// single package's rules or all of them.
//
// The compiler type-checks every expression up front and returns a
// rulebase.CompileError with line/column diagnostics when any rule is
// invalid, so a bad edit never produces a partially usable artifact.
// Compiled programs are immutable and shared by all sessions created from
// the resulting rule base.
package cel
