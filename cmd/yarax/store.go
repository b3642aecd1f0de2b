package main

import (
	"fmt"
	"hash/fnv"
	"os"

	"github.com/spf13/cobra"

	"github.com/sansecio/yarax/parser"
	"github.com/sansecio/yarax/rulestore"
	"github.com/sansecio/yarax/scanner"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the named, versioned rule-set store",
}

var storePutCmd = &cobra.Command{
	Use:   "put <name> <rules.yar> [more-rules.yar...]",
	Short: "Compile rule files and publish them under a name",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runStorePut,
}

var storeGetCmd = &cobra.Command{
	Use:   "get <name> [version]",
	Short: "Fetch a stored rule set and write it out",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runStoreGet,
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every name and version in the store",
	Args:  cobra.NoArgs,
	RunE:  runStoreList,
}

var storeGetOut string

func init() {
	storeGetCmd.Flags().StringVar(&storeGetOut, "out", "", "write the serialized rule set to this path instead of stdout")

	storeCmd.AddCommand(storePutCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeListCmd)
}

func runStorePut(cmd *cobra.Command, args []string) error {
	name := args[0]
	rs := newRuleSetAccumulator()
	for _, path := range args[1:] {
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

	rules, err := scanner.Compile(rs.ruleSet)
	if err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}

	store, err := rulestore.Open(cfg.RuleStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := store.Put(name, rules, sourceHash(args[1:]))
	if err != nil {
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	logger.Info("published rule set", "name", name, "version", version, "rules", rules.NumRules())
	return nil
}

func runStoreGet(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := rulestore.Open(cfg.RuleStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var rules *scanner.Rules
	if len(args) == 2 {
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		rules, err = store.Get(name, version)
	} else {
		rules, err = store.Latest(name)
	}
	if err != nil {
		return fmt.Errorf("fetching %s: %w", name, err)
	}

	blob, err := rules.Serialize()
	if err != nil {
		return fmt.Errorf("serializing %s: %w", name, err)
	}
	if storeGetOut == "" {
		_, err = os.Stdout.Write(blob)
		return err
	}
	return os.WriteFile(storeGetOut, blob, 0o644)
}

func runStoreList(cmd *cobra.Command, args []string) error {
	store, err := rulestore.Open(cfg.RuleStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\tv%d\t%s\n", e.Name, e.Version, e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

// sourceHash gives rule sets published from the same file set a stable,
// cheap fingerprint.
func sourceHash(paths []string) string {
	h := fnv.New64a()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		h.Write(data)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
