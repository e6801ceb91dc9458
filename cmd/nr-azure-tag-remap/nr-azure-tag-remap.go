package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	_ "github.com/newrelic/nr-azure-tag-remap/internal/provider/azure"
	_ "github.com/newrelic/nr-azure-tag-remap/internal/provider/inventory"

	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
	"github.com/newrelic/nr-azure-tag-remap/internal/remap"
	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

var rootCmd = &cobra.Command{
	Use:   "nr-azure-tag-remap",
	Short: "Rename Azure tag keys and remap tag values across a tenant",
	Long: `nr-azure-tag-remap walks every subscription visible to the configured
credentials, then the resource groups in each subscription and the resources
in each group, renaming tag keys and replacing tag values according to the
rules file. Entities whose tags do not change are never written.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runRemap,
}

var previewCmd = &cobra.Command{
	Use:   "preview KEY=VALUE...",
	Short: "Print the tags that the rules file would produce for a tag set",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPreview,
}

var flagKeys = map[string]string{
	"config":         "config",
	"rules":          "remap.rulesFile",
	"tenant":         "remap.tenantId",
	"subscription":   "remap.subscriptionId",
	"resource-group": "remap.resourceGroup",
	"skip-disabled":  "remap.skipDisabled",
	"dry-run":        "remap.dryRun",
	"concurrency":    "remap.concurrency",
	"timeout":        "remap.timeout",
	"log-level":      "log.level",
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.String("config", "", "config file (default configs/config.yaml or ./config.yaml)")
	flags.String("rules", "", "tag rules file (default tags.yaml)")
	flags.String("tenant", "", "only update subscriptions in this tenant")
	flags.String("subscription", "", "only update this subscription ID")
	flags.String("resource-group", "", "only update this resource group")
	flags.Bool("skip-disabled", true, "skip subscriptions that are not enabled")
	flags.Bool("dry-run", false, "log the changes without writing tags")
	flags.Int("concurrency", 0, "maximum concurrent Azure calls (default 8)")
	flags.Duration("timeout", 0, "abort the run after this duration")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")

	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %s", flag, err))
		}
	}

	rootCmd.AddCommand(previewCmd)
}

func runRemap(cmd *cobra.Command, args []string) error {
	i, err := interop.NewInteroperability()
	if err != nil {
		return &exitError{1, fmt.Errorf("failed to create interop: %w", err)}
	}

	defer i.Shutdown()

	i.Logger.Debugf("registered providers: %s", strings.Join(provider.RegisteredProviders(), ", "))

	remapper, err := remap.NewFromConfig(i)
	if err != nil {
		return &exitError{2, fmt.Errorf("remap setup failed: %w", err)}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if timeout := viper.GetDuration("remap.timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	summary, err := remapper.Run(ctx)
	if summary != nil {
		printSummary(cmd, summary)
	}
	if err != nil {
		return &exitError{3, fmt.Errorf("remap failed: %w", err)}
	}

	if summary.Totals.Failed > 0 || summary.ListErrors > 0 {
		return &exitError{4, fmt.Errorf(
			"remap completed with %d failed entities and %d listing errors",
			summary.Totals.Failed,
			summary.ListErrors,
		)}
	}

	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	rulesFile := viper.GetString("remap.rulesFile")

	rules, err := remap.LoadRules(rulesFile)
	if err != nil {
		return err
	}

	tags := provider.Tags{}

	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid tag %q, expected KEY=VALUE", arg)
		}
		tags[k] = v
	}

	result := remap.RemapValues(remap.RemapKeys(tags, rules.KeyRules), rules.ValueRules)

	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := cmd.OutOrStdout()
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, result[k])
	}

	return nil
}

func printSummary(cmd *cobra.Command, summary *remap.Summary) {
	out := cmd.OutOrStdout()

	mode := ""
	if summary.DryRun {
		mode = " (dry run)"
	}

	fmt.Fprintf(out, "run %s%s finished in %s\n", summary.RunID, mode, summary.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(
		out,
		"updated: %d  skipped: %d  failed: %d  filtered: %d  listing errors: %d\n",
		summary.Totals.Updated,
		summary.Totals.Skipped,
		summary.Totals.Failed,
		summary.Totals.Filtered,
		summary.ListErrors,
	)

	for _, err := range summary.Errors {
		fmt.Fprintf(out, "  error: %s\n", err)
	}
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
