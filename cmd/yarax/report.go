package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <scan-output.json>",
	Short: "Render a prior 'scan --output' JSON file as a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	var results []scanOutcome
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tMATCHING RULES\tNON-MATCHING\tERROR")
	for _, r := range results {
		matched := "-"
		if len(r.MatchingRules) > 0 {
			matched = strings.Join(r.MatchingRules, ", ")
		}
		errCol := "-"
		if r.ErrorMsg != "" {
			errCol = r.ErrorMsg
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Target, matched, r.NonMatchingAll, errCol)
	}
	return w.Flush()
}
