/*
Copyright © 2025 dotlessone
*/
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotlessone/texvault/pkg/buildinfo"
	"github.com/dotlessone/texvault/pkg/config"
	"github.com/dotlessone/texvault/pkg/exitcode"
	"github.com/dotlessone/texvault/pkg/logger"
)

// newRootCommand creates a fresh root command instance.
// The factory pattern lets tests build isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "texvault",
		Short: "Evidence-driven reconciliation for extracted texture assets",
		Long: `Texvault reconciles dumped texture files against evidence tables and
maintains a canonical, content-verified store of named assets.

Examples:
   texvault reconcile --manifest passes.toml   # Run all passes and verify
   texvault reconcile --dry-run ...            # Preview decisions only
   texvault verify --manifest passes.toml      # Audit the store without reconciling
   texvault version                            # Show version`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
	}

	// Accept snake_case spellings of multi-word flags.
	cmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().String("log-level", "", "Set log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().Int("workers", 0, "Worker pool size (0 = number of CPUs)")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("texvault {{.Version}}\n")

	return cmd
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

// registerSubcommands adds all subcommands to the root command.
// Called from init() for production and explicitly in tests.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(reconcileCmd)
	cmd.AddCommand(verifyCmd)
	cmd.AddCommand(versionCmd)
}

func init() {
	registerSubcommands(rootCmd)
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		logger.Error("Command execution failed",
			logger.Err(err),
			logger.String("exit", exitcode.String(code)))
		os.Exit(code)
	}
}

// initializeLogger sets up the logger from persistent flags layered over the
// loaded configuration file.
func initializeLogger(cmd *cobra.Command) {
	cfg, err := config.LoadConfig()
	if err != nil {
		cfg = &config.Config{Log: config.LogConfig{Level: "info"}}
	}

	levelStr := cfg.Log.Level
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		levelStr = s
	}
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	_ = logger.Initialize(logger.Config{
		Level:     logger.ParseLevel(levelStr),
		UseColor:  !noColor && !cfg.Log.NoColor,
		JSON:      jsonLogs || cfg.Log.JSON,
		Component: "texvault",
		DryRun:    dryRun,
	})
}
