package rulebase

import (
	"fmt"
	"strings"
)

// Diagnostic is one compiler finding, located within a rule source.
type Diagnostic struct {
	// Path is the source file the finding refers to.
	Path string

	// Rule is the name of the offending rule, if known.
	Rule string

	// Line and Column locate the finding within the rule expression
	// (1-indexed, zero when unknown).
	Line   int
	Column int

	// Message describes the finding.
	Message string
}

// String formats the diagnostic for logs and events.
func (d Diagnostic) String() string {
	loc := d.Path
	if d.Rule != "" {
		loc = fmt.Sprintf("%s (rule %q)", loc, d.Rule)
	}
	if d.Line > 0 {
		loc = fmt.Sprintf("%s line %d, column %d", loc, d.Line, d.Column)
	}
	return fmt.Sprintf("%s: %s", loc, d.Message)
}

// CompileError reports that rule sources failed to compile. It blocks only
// the pending reload; the previously active rule base keeps serving.
type CompileError struct {
	// Diagnostics contains the individual compiler findings.
	Diagnostics []Diagnostic

	// Cause is the underlying error, if a single one exists.
	Cause error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("rule compilation failed: %v", e.Cause)
		}
		return "rule compilation failed"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "rule compilation failed with %d finding(s):", len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		sb.WriteString("\n  - ")
		sb.WriteString(d.String())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error { return e.Cause }

// LoadError reports a failure to access or read a rule source file.
type LoadError struct {
	// Path is the file that failed to load.
	Path string

	// Message describes the failure.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load rule source %q: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load rule source %q: %s", e.Path, e.Message)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error { return e.Cause }
