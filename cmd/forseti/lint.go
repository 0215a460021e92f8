package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/forseti/pkg/cli"
	"mercator-hq/forseti/pkg/rulebase"
	celcompiler "mercator-hq/forseti/pkg/rulebase/cel"
)

var lintFlags struct {
	rulesPath string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check rule files for errors",
	Long: `Compile the rule sources and report every diagnostic without starting
the engine.

Examples:
  # Lint the default rules directory
  forseti lint

  # Lint a specific directory or file
  forseti lint --rules ./rules`,
	RunE: lintRules,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVarP(&lintFlags.rulesPath, "rules", "r", "./rules", "rules path")
}

func lintRules(cmd *cobra.Command, args []string) error {
	repoCfg := rulebase.DefaultFileRepositoryConfig()
	repoCfg.Path = lintFlags.rulesPath
	repo, err := rulebase.NewFileRepository(repoCfg)
	if err != nil {
		return cli.NewCommandError("lint", err)
	}

	ctx := context.Background()
	infos, err := repo.ListSources(ctx)
	if err != nil {
		return cli.NewCommandError("lint", err)
	}
	if len(infos) == 0 {
		return cli.NewCommandError("lint", fmt.Errorf("no rule sources found under %s", lintFlags.rulesPath))
	}

	sources := make([]rulebase.Source, 0, len(infos))
	for _, info := range infos {
		data, err := repo.ReadSource(ctx, info.Path)
		if err != nil {
			return cli.NewCommandError("lint", err)
		}
		sources = append(sources, rulebase.Source{Path: info.Path, Data: data})
	}

	rb, err := celcompiler.NewCompiler().Compile(ctx, sources)
	if err != nil {
		var compileErr *rulebase.CompileError
		if errors.As(err, &compileErr) {
			fmt.Printf("✗ %d problem(s) in %d file(s):\n\n", len(compileErr.Diagnostics), len(sources))
			for _, diag := range compileErr.Diagnostics {
				fmt.Printf("  %s\n", diag.String())
			}
			return cli.NewCommandError("lint", fmt.Errorf("%d diagnostics", len(compileErr.Diagnostics)))
		}
		return cli.NewCommandError("lint", err)
	}

	fmt.Printf("✓ %d rule(s) compiled from %d file(s)\n", rb.RuleCount(), len(sources))
	return nil
}
