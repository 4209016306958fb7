package main

import (
	"fmt"
	"os"

	"sealbox/internal/app"
	"sealbox/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// asPrincipal is set by the global --as flag.
var asPrincipal string

// newApp reads the config and creates an SBApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CreateTask", "ListBoxes").
// The caller principal is, in order: --as, SEALBOX_PRINCIPAL, the config's principal.
func newApp(operation string) (*app.SBApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if !cfg.Database.Persistent() {
		return nil, fmt.Errorf("database type %q does not persist between runs; use sqlite", cfg.Database.Type)
	}

	switch {
	case asPrincipal != "":
		cfg.Principal = asPrincipal
	case defaults["principal"] != "":
		cfg.Principal = defaults["principal"]
	}

	a, err := app.NewSBApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "sealbox",
	Short:        "Owner-scoped encrypted tasks and anonymous feedback",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&asPrincipal, "as", "", "Run as this principal")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(coprocessorCmd)
	rootCmd.AddCommand(principalCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(sharedCmd)
	rootCmd.AddCommand(boxCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
}
