// Package rulebase defines the compiled rule-base artifact and the
// collaborator interfaces around it: the source repository that supplies
// rule sources, the compiler that turns them into an immutable RuleBase,
// and the bounded compilation cache keyed by source fingerprints.
//
// A RuleBase is immutable once built. It is produced by a Compiler from the
// full set of current rule sources, published by the engine registry, and
// shared read-only by any number of concurrent evaluation sessions.
package rulebase
