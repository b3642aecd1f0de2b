package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sansecio/yarax/parser"
	"github.com/sansecio/yarax/scanner"
)

var (
	compileOut      string
	compileJSONDiag bool
	compileSkipBad  bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <rules.yar> [more-rules.yar...]",
	Short: "Compile rule files and report diagnostics",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileOut, "out", "", "write the serialized rule set to this path")
	compileCmd.Flags().BoolVar(&compileJSONDiag, "json", false, "print diagnostics as JSON instead of text")
	compileCmd.Flags().BoolVar(&compileSkipBad, "skip-invalid-regex", false, "drop unrepresentable strings instead of failing")
}

func runCompile(cmd *cobra.Command, args []string) error {
	rs := newRuleSetAccumulator()

	for _, path := range args {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		parsed, diags := parser.ParseDiag(string(src), path)
		if len(diags) > 0 {
			printDiagnostics(diags)
			if diags.HasErrors() {
				return fmt.Errorf("compile failed: %s", path)
			}
		}
		rs.merge(parsed)
	}

	rules, err := scanner.CompileWithOptions(rs.ruleSet, scanner.CompileOptions{SkipInvalidRegex: compileSkipBad})
	if err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}
	if warnings := rules.Diagnostics(); len(warnings) > 0 {
		printDiagnostics(warnings)
	}

	acAtoms, patterns := rules.Stats()
	logger.Info("compiled rule set", "rules", rules.NumRules(), "patterns", patterns, "atoms", acAtoms)

	if compileOut != "" {
		blob, err := rules.Serialize()
		if err != nil {
			return fmt.Errorf("serializing rule set: %w", err)
		}
		if err := os.WriteFile(compileOut, blob, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", compileOut, err)
		}
		logger.Info("wrote compiled rule set", "path", compileOut, "bytes", len(blob))
	}
	return nil
}

func printDiagnostics(diags diagReport) {
	if compileJSONDiag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(diags)
		return
	}
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Text)
	}
}
