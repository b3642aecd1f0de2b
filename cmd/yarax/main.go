// Command yarax is the scanning engine's CLI front end (SPEC_FULL.md
// §4.K): compile rule files, scan a file/directory/archive, manage a
// named rule-set store, and render a prior scan's JSON report.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
