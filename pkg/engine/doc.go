// Package engine is the rule-engine core: it owns the active compiled
// rule-base version, pools stateful evaluation sessions, detects
// rule-source changes, and coordinates evaluations.
//
// The moving parts are the Registry (atomic publication of compiled
// rule-base versions), the Pool (bounded, exclusively-leased evaluation
// sessions, each bound to one version for its whole life), the Detector
// (periodic source scans feeding compile-and-publish, fail-safe on bad
// edits), and the Coordinator (one evaluation call end to end, with
// timeout and guaranteed session cleanup). Engine wires them together
// behind a small facade.
//
// Concurrency model: any number of goroutines may call Evaluate
// concurrently; the active-version pointer is the only contended mutable
// state and is read lock-free. A session is never shared while leased. A
// publish never interrupts in-flight evaluations; sessions bound to a
// superseded version finish their work and are retired when returned.
package engine
