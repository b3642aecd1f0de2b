// Command bench is a differential harness: it runs the same YARA rule file
// against the same input through both this repository's engine and the real
// libyara C library (via the CGo `hillu/go-yara` binding), then reports
// timing, throughput, and whether the two engines agree on how many rules
// matched. A mismatch is the first signal that the regex/condition/atom
// pipeline has drifted from libyara's own semantics on some construct.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/hillu/go-yara/v4"

	"github.com/sansecio/yarax/parser"
	"github.com/sansecio/yarax/scanner"
)

func main() {
	rulesPath := flag.String("rules", "fixture/ecomscan.yar", "path to YARA rules file")
	scanPath := flag.String("scan", "fixture/Product.php", "path to file to scan")
	iterations := flag.Int("n", 1, "number of iterations")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (engine scan only)")
	flag.Parse()

	data, err := os.ReadFile(*scanPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read scan file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning %d bytes, %d iterations\n\n", len(data), *iterations)

	libyara, err := runLibyara(*rulesPath, data, *iterations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "libyara: %v\n", err)
		os.Exit(1)
	}

	engine, warnings, err := runEngine(*rulesPath, data, *iterations, *cpuprofile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}

	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if len(warnings) > 0 {
		fmt.Fprintln(os.Stderr)
	}

	fmt.Println(formatResult("libyara", libyara, len(data)))
	fmt.Println(formatResult("engine ", engine, len(data)))
	fmt.Printf("ratio:    %.2fx\n", float64(engine.elapsed)/float64(libyara.elapsed))

	if verdict := compareMatchCounts(libyara.matches, engine.matches); verdict != "" {
		fmt.Fprintln(os.Stderr, verdict)
		os.Exit(1)
	}
}

// runResult holds one engine's timing and match count for a single bench run.
type runResult struct {
	elapsed time.Duration
	matches int
}

// formatResult renders one engine's runResult as a single report line. Pulled
// out of main so it can be tested without invoking either scanning engine.
func formatResult(label string, r runResult, scannedBytes int) string {
	mbPerSec := float64(scannedBytes) / r.elapsed.Seconds() / 1024 / 1024
	return fmt.Sprintf("%s:  %v  (%.2f MB/s)  %d matches", label, r.elapsed, mbPerSec, r.matches)
}

// compareMatchCounts returns a non-empty diagnostic string when the two
// engines disagree on how many rules matched the same input -- the simplest
// differential signal this harness can raise without diffing rule-by-rule.
func compareMatchCounts(libyaraMatches, engineMatches int) string {
	if libyaraMatches == engineMatches {
		return ""
	}
	return fmt.Sprintf("mismatch: libyara matched %d rule(s), engine matched %d rule(s)",
		libyaraMatches, engineMatches)
}

func runLibyara(rulesPath string, data []byte, iterations int) (runResult, error) {
	compiler, err := yara.NewCompiler()
	if err != nil {
		return runResult{}, fmt.Errorf("failed to create compiler: %w", err)
	}

	rulesFile, err := os.Open(rulesPath)
	if err != nil {
		return runResult{}, fmt.Errorf("failed to open rules: %w", err)
	}
	addErr := compiler.AddFile(rulesFile, "")
	rulesFile.Close()
	if addErr != nil {
		return runResult{}, fmt.Errorf("failed to add rules: %w", addErr)
	}

	rules, err := compiler.GetRules()
	if err != nil {
		return runResult{}, fmt.Errorf("failed to get rules: %w", err)
	}

	for i := 0; i < 3; i++ {
		var matches yara.MatchRules
		rules.ScanMem(data, 0, time.Minute, &matches)
	}

	var lastMatches yara.MatchRules
	start := time.Now()
	for i := 0; i < iterations; i++ {
		var matches yara.MatchRules
		rules.ScanMem(data, 0, time.Minute, &matches)
		lastMatches = matches
	}
	elapsed := time.Since(start)

	return runResult{elapsed: elapsed / time.Duration(iterations), matches: len(lastMatches)}, nil
}

func runEngine(rulesPath string, data []byte, iterations int, cpuprofile string) (runResult, []string, error) {
	src, err := os.ReadFile(rulesPath)
	if err != nil {
		return runResult{}, nil, fmt.Errorf("failed to read rules: %w", err)
	}

	rs, diags := parser.ParseDiag(string(src), rulesPath)
	if diags.HasErrors() {
		return runResult{}, nil, fmt.Errorf("failed to parse rules: %s", diags.Error())
	}

	rules, err := scanner.CompileWithOptions(rs, scanner.CompileOptions{SkipInvalidRegex: true})
	if err != nil {
		return runResult{}, nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	for i := 0; i < 3; i++ {
		var matches scanner.MatchRules
		rules.ScanMem(data, 0, time.Minute, &matches)
	}

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return runResult{}, nil, fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return runResult{}, nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	var lastMatches scanner.MatchRules
	start := time.Now()
	for i := 0; i < iterations; i++ {
		var matches scanner.MatchRules
		rules.ScanMem(data, 0, time.Minute, &matches)
		lastMatches = matches
	}
	elapsed := time.Since(start)

	var warnings []string
	for _, d := range rules.Diagnostics() {
		warnings = append(warnings, d.Text)
	}
	return runResult{elapsed: elapsed / time.Duration(iterations), matches: len(lastMatches)}, warnings, nil
}
