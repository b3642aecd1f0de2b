package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sansecio/yarax/archive"
	"github.com/sansecio/yarax/parser"
	"github.com/sansecio/yarax/rulestore"
	"github.com/sansecio/yarax/scanner"
)

var (
	scanRulesPath  string
	scanStoreName  string
	scanTimeout    int
	scanOutputJSON string
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a file, directory, or archive against a rule set",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRulesPath, "rules", "", "rule source file, or a serialized rule set written by 'compile --out'")
	scanCmd.Flags().StringVar(&scanStoreName, "store-rules", "", "scan with the latest rule set published under this name in the store")
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "per-file scan timeout in seconds (0 = config default)")
	scanCmd.Flags().StringVar(&scanOutputJSON, "output", "", "write scan results as JSON to this path")
}

// scanOutcome is one target's result, in the shape report.go re-renders.
type scanOutcome struct {
	Target         string   `json:"target"`
	MatchingRules  []string `json:"matching_rules"`
	NonMatchingAll int      `json:"non_matching_count"`
	ErrorMsg       string   `json:"error,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	rules, err := loadScanRules()
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.DefaultTimeout) * time.Second
	if scanTimeout > 0 {
		timeout = time.Duration(scanTimeout) * time.Second
	}

	var results []scanOutcome
	switch ext := strings.ToLower(filepath.Ext(target)); ext {
	case ".7z", ".zip", ".jar", ".war", ".apk":
		results, err = scanArchive(rules, target, timeout)
	default:
		fi, statErr := os.Stat(target)
		if statErr != nil {
			return statErr
		}
		if fi.IsDir() {
			results, err = scanDir(rules, target, timeout)
		} else {
			results = []scanOutcome{scanOne(rules, target, timeout)}
		}
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.ErrorMsg != "" {
			logger.Warn("scan error", "target", r.Target, "error", r.ErrorMsg)
			continue
		}
		if len(r.MatchingRules) > 0 {
			fmt.Printf("%s: %s\n", r.Target, strings.Join(r.MatchingRules, ", "))
		}
	}

	if scanOutputJSON != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
		if err := os.WriteFile(scanOutputJSON, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", scanOutputJSON, err)
		}
	}
	return nil
}

func loadScanRules() (*scanner.Rules, error) {
	switch {
	case scanStoreName != "":
		store, err := rulestore.Open(cfg.RuleStorePath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Latest(scanStoreName)
	case scanRulesPath != "":
		data, err := os.ReadFile(scanRulesPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", scanRulesPath, err)
		}
		if rules, derr := scanner.Deserialize(data); derr == nil {
			return rules, nil
		}
		rs, diags := parser.ParseDiag(string(data), scanRulesPath)
		if len(diags) > 0 {
			printDiagnostics(diags)
			if diags.HasErrors() {
				return nil, fmt.Errorf("parsing %s failed", scanRulesPath)
			}
		}
		return scanner.Compile(rs)
	default:
		return nil, fmt.Errorf("one of --rules or --store-rules is required")
	}
}

func scanOne(rules *scanner.Rules, path string, timeout time.Duration) scanOutcome {
	var matches scanner.MatchRules
	err := rules.ScanFile(path, 0, timeout, &matches)
	out := scanOutcome{Target: path, NonMatchingAll: rules.NumRules() - len(matches)}
	if err != nil {
		out.ErrorMsg = err.Error()
		return out
	}
	for _, m := range matches {
		out.MatchingRules = append(out.MatchingRules, m.Rule)
	}
	return out
}

func scanDir(rules *scanner.Rules, root string, timeout time.Duration) ([]scanOutcome, error) {
	var results []scanOutcome
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		results = append(results, scanOne(rules, path, timeout))
		return nil
	})
	return results, err
}

func scanArchive(rules *scanner.Rules, path string, timeout time.Duration) ([]scanOutcome, error) {
	var results []scanOutcome
	skipped, err := archive.Walk(path, archive.DefaultLimits(), func(m archive.Member) error {
		var matches scanner.MatchRules
		name := path + "!" + m.Path
		scanErr := rules.ScanMem(m.Data, 0, timeout, &matches)
		out := scanOutcome{Target: name, NonMatchingAll: rules.NumRules() - len(matches)}
		if scanErr != nil {
			out.ErrorMsg = scanErr.Error()
		}
		for _, mm := range matches {
			out.MatchingRules = append(out.MatchingRules, mm.Rule)
		}
		results = append(results, out)
		return nil
	})
	if err != nil {
		return results, err
	}
	for _, s := range skipped {
		logger.Warn("skipped archive member", "archive", path, "member", s.Path, "reason", s.Reason)
	}
	return results, nil
}
