package rulebase

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Source is one rule source file handed to the compiler.
type Source struct {
	// Path is the repository-relative path of the file.
	Path string

	// Data is the raw file contents.
	Data []byte
}

// SourceInfo describes one rule source as listed by a repository scan.
type SourceInfo struct {
	// Path is the repository-relative path of the file.
	Path string

	// Fingerprint identifies the observed version of the file.
	Fingerprint Fingerprint
}

// SourceRepository supplies rule sources. Implementations must be safe for
// concurrent use; the change detector and forced reloads may scan
// concurrently.
type SourceRepository interface {
	// ListSources lists all rule sources with fresh fingerprints.
	ListSources(ctx context.Context) ([]SourceInfo, error)

	// ReadSource reads the contents of a single rule source.
	ReadSource(ctx context.Context, path string) ([]byte, error)
}

// Compiler produces a RuleBase from the full set of current rule sources.
// Compilation is a pure function of its inputs: compiling the same sources
// twice yields equivalent artifacts. On failure it returns a *CompileError
// carrying per-rule diagnostics.
type Compiler interface {
	Compile(ctx context.Context, sources []Source) (*RuleBase, error)
}

// Output is a designated output fact produced by a fired rule.
type Output struct {
	// Rule is the name of the rule that produced the output.
	Rule string

	// Name is the declared name of the output fact.
	Name string

	// Value is the computed fact value. The engine passes it through
	// untouched; its shape belongs to the rule author.
	Value any
}

// Session is a stateful evaluation context created from a RuleBase. A
// session holds inserted facts and rule-firing state for one evaluation
// lifecycle and is never shared between concurrent callers.
type Session interface {
	// Insert adds a fact to the session's working memory. Facts are
	// opaque to the engine; insertion order is preserved.
	Insert(ctx context.Context, fact any) error

	// Fire matches rules against the inserted facts and returns the
	// designated output facts. A non-empty rulePackage restricts firing
	// to rules declared in that package; empty fires every rule. Fire
	// honors context cancellation.
	Fire(ctx context.Context, rulePackage string) ([]Output, error)

	// Reset clears inserted facts and firing state so the session can be
	// reused for another evaluation against the same rule base.
	Reset() error

	// Close releases the session's underlying resources. Close is
	// idempotent.
	Close() error
}

// SessionFactory creates evaluation sessions bound to one compiled rule
// base. The factory is embedded in the RuleBase by the compiler.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// RuleBase is an immutable compiled rule-base artifact. It is produced by a
// Compiler, stamped with a monotonic version at publish time, and from then
// on only read.
type RuleBase struct {
	id         uuid.UUID
	sourceHash string
	sources    FingerprintSet
	factory    SessionFactory
	ruleCount  int
	compiledAt time.Time
	invalid    bool

	// version is stamped by the registry at publish time. It is atomic
	// because a cached artifact can be published again after a revert,
	// re-stamping it while readers of an earlier publication still hold
	// the pointer.
	version atomic.Uint64
}

// New builds a rule-base artifact from a compiler's output.
// sourceHash is the fingerprint-set hash of the sources it was compiled
// from and ruleCount the number of compiled rules.
func New(sourceHash string, sources FingerprintSet, factory SessionFactory, ruleCount int) *RuleBase {
	return &RuleBase{
		id:         uuid.New(),
		sourceHash: sourceHash,
		sources:    sources,
		factory:    factory,
		ruleCount:  ruleCount,
		compiledAt: time.Now(),
	}
}

// ID returns the artifact identifier assigned at compile time.
func (rb *RuleBase) ID() uuid.UUID { return rb.id }

// SourceHash returns the fingerprint-set hash of the sources this rule
// base was compiled from. It is stable across restarts for identical
// sources.
func (rb *RuleBase) SourceHash() string { return rb.sourceHash }

// Sources returns the fingerprints of the sources this rule base was
// compiled from.
func (rb *RuleBase) Sources() FingerprintSet { return rb.sources }

// RuleCount returns the number of compiled rules.
func (rb *RuleBase) RuleCount() int { return rb.ruleCount }

// CompiledAt returns when the artifact was produced.
func (rb *RuleBase) CompiledAt() time.Time { return rb.compiledAt }

// Version returns the monotonic version assigned at the most recent
// publish, or zero if the rule base was never published.
func (rb *RuleBase) Version() uint64 { return rb.version.Load() }

// SetVersion stamps the publish version. Only the registry calls this,
// under its publish lock.
func (rb *RuleBase) SetVersion(v uint64) { rb.version.Store(v) }

// Invalidate flags the artifact so the registry will refuse to publish it.
func (rb *RuleBase) Invalidate() { rb.invalid = true }

// Valid reports whether the artifact is publishable: it has at least one
// compiled rule and has not been flagged invalid.
func (rb *RuleBase) Valid() bool {
	return rb != nil && !rb.invalid && rb.ruleCount > 0 && rb.factory != nil
}

// NewSession creates a fresh evaluation session bound to this rule base.
func (rb *RuleBase) NewSession(ctx context.Context) (Session, error) {
	return rb.factory.NewSession(ctx)
}
