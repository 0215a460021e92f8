package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"mercator-hq/forseti/pkg/rulebase"
)

const (
	// DefaultMaxExpressionLength is the maximum allowed length for a rule
	// expression. Longer expressions are rejected during compilation.
	DefaultMaxExpressionLength = 10000

	// defaultInterruptCheckFrequency is how many evaluation steps pass
	// between context-cancellation checks while a rule fires.
	defaultInterruptCheckFrequency = 100

	// FactsVariable is the CEL variable holding the ordered list of facts
	// inserted into the session.
	FactsVariable = "facts"
)

// ruleFile is the YAML shape of one rule source.
type ruleFile struct {
	Package string     `yaml:"package"`
	Rules   []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	When        string       `yaml:"when"`
	Outputs     []outputSpec `yaml:"outputs"`
	Disabled    bool         `yaml:"disabled"`
}

type outputSpec struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// compiledRule is one rule with its pre-compiled CEL programs.
type compiledRule struct {
	pkg     string
	name    string
	when    cel.Program
	outputs []compiledOutput
}

type compiledOutput struct {
	name    string
	program cel.Program
}

// Compiler compiles YAML rule sources into an immutable rulebase.RuleBase
// backed by CEL programs. It is safe for concurrent use.
type Compiler struct {
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	maxExpressionLength int
}

// NewCompiler creates a CEL rule compiler.
func NewCompiler() *Compiler {
	return &Compiler{maxExpressionLength: DefaultMaxExpressionLength}
}

// WithMaxExpressionLength sets the maximum allowed expression length.
func (c *Compiler) WithMaxExpressionLength(maxLen int) *Compiler {
	c.maxExpressionLength = maxLen
	return c
}

// getEnv returns the CEL environment, creating it lazily on first access.
func (c *Compiler) getEnv() (*cel.Env, error) {
	c.envOnce.Do(func() {
		c.env, c.envErr = cel.NewEnv(
			cel.Variable(FactsVariable, cel.ListType(cel.DynType)),
		)
	})
	return c.env, c.envErr
}

// Compile parses all sources, compiles every rule expression, and returns
// the rule-base artifact. Any invalid source or expression fails the whole
// compilation with a *rulebase.CompileError collecting every finding, so
// callers see all problems from one edit at once.
func (c *Compiler) Compile(ctx context.Context, sources []rulebase.Source) (*rulebase.RuleBase, error) {
	env, err := c.getEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	var rules []compiledRule
	var diags []rulebase.Diagnostic
	fingerprints := make(rulebase.FingerprintSet, len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fingerprints[src.Path] = rulebase.NewFingerprint(src.Path, src.Data)

		var file ruleFile
		if err := yaml.Unmarshal(src.Data, &file); err != nil {
			diags = append(diags, rulebase.Diagnostic{
				Path:    src.Path,
				Message: fmt.Sprintf("invalid YAML: %v", err),
			})
			continue
		}

		for _, spec := range file.Rules {
			if spec.Disabled {
				continue
			}
			compiled, ruleDiags := c.compileRule(env, src.Path, file.Package, spec)
			if len(ruleDiags) > 0 {
				diags = append(diags, ruleDiags...)
				continue
			}
			rules = append(rules, compiled)
		}
	}

	if len(diags) > 0 {
		return nil, &rulebase.CompileError{Diagnostics: diags}
	}

	if len(rules) == 0 {
		return nil, &rulebase.CompileError{Diagnostics: []rulebase.Diagnostic{{
			Message: "no rules found in any source",
		}}}
	}

	factory := &sessionFactory{rules: rules}
	return rulebase.New(fingerprints.Hash(), fingerprints, factory, len(rules)), nil
}

// compileRule compiles one rule's condition and output expressions.
func (c *Compiler) compileRule(env *cel.Env, path, pkg string, spec ruleSpec) (compiledRule, []rulebase.Diagnostic) {
	var diags []rulebase.Diagnostic

	if spec.Name == "" {
		diags = append(diags, rulebase.Diagnostic{
			Path:    path,
			Message: "rule is missing a name",
		})
		return compiledRule{}, diags
	}

	if spec.When == "" {
		diags = append(diags, rulebase.Diagnostic{
			Path:    path,
			Rule:    spec.Name,
			Message: "rule is missing a when expression",
		})
		return compiledRule{}, diags
	}

	when, whenDiags := c.compileExpression(env, path, spec.Name, spec.When, cel.BoolType)
	diags = append(diags, whenDiags...)

	outputs := make([]compiledOutput, 0, len(spec.Outputs))
	for _, out := range spec.Outputs {
		if out.Name == "" {
			diags = append(diags, rulebase.Diagnostic{
				Path:    path,
				Rule:    spec.Name,
				Message: "output is missing a name",
			})
			continue
		}
		program, outDiags := c.compileExpression(env, path, spec.Name, out.Expr, nil)
		if len(outDiags) > 0 {
			diags = append(diags, outDiags...)
			continue
		}
		outputs = append(outputs, compiledOutput{name: out.Name, program: program})
	}

	if len(diags) > 0 {
		return compiledRule{}, diags
	}

	return compiledRule{pkg: pkg, name: spec.Name, when: when, outputs: outputs}, nil
}

// compileExpression compiles a single CEL expression, optionally requiring
// a result type, and maps compiler issues to diagnostics.
func (c *Compiler) compileExpression(env *cel.Env, path, rule, expr string, want *cel.Type) (cel.Program, []rulebase.Diagnostic) {
	if len(expr) > c.maxExpressionLength {
		return nil, []rulebase.Diagnostic{{
			Path:    path,
			Rule:    rule,
			Message: fmt.Sprintf("expression length %d exceeds maximum of %d", len(expr), c.maxExpressionLength),
		}}
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, diagnosticsFromIssues(path, rule, issues)
	}

	if want != nil && !ast.OutputType().IsExactType(want) {
		return nil, []rulebase.Diagnostic{{
			Path:    path,
			Rule:    rule,
			Message: fmt.Sprintf("expression evaluates to %s, want %s", ast.OutputType(), want),
		}}
	}

	program, err := env.Program(ast, cel.InterruptCheckFrequency(defaultInterruptCheckFrequency))
	if err != nil {
		return nil, []rulebase.Diagnostic{{
			Path:    path,
			Rule:    rule,
			Message: fmt.Sprintf("failed to build program: %v", err),
		}}
	}

	return program, nil
}

// diagnosticsFromIssues converts CEL issues into located diagnostics.
func diagnosticsFromIssues(path, rule string, issues *cel.Issues) []rulebase.Diagnostic {
	errs := issues.Errors()
	diags := make([]rulebase.Diagnostic, 0, len(errs))
	for _, err := range errs {
		diags = append(diags, rulebase.Diagnostic{
			Path:    path,
			Rule:    rule,
			Line:    err.Location.Line(),
			Column:  err.Location.Column(),
			Message: err.Message,
		})
	}
	if len(diags) == 0 {
		diags = append(diags, rulebase.Diagnostic{
			Path:    path,
			Rule:    rule,
			Message: issues.Err().Error(),
		})
	}
	return diags
}
