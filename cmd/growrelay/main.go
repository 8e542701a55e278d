// GrowRelay copies new Hatch Grow baby-tracker records (feedings, diapers,
// sleep, weight) into one Google Calendar per baby. Records are never synced
// twice.
//
// Usage:
//
//	growrelay setup                     # interactive first-run wizard
//	growrelay daemon [--config <path>]  # sync on a schedule, optional HTTP endpoint
//	growrelay sync-once [--config ...]  # single sync cycle, summary as JSON
//	growrelay serve [--addr :8080]      # HTTP endpoint only (/health, POST /sync)
//	growrelay status                    # show service, config and state
//	growrelay uninstall [--purge]       # stop the service and remove files
//	growrelay version                   # print version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/njoerd114/growrelay/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// Global flag values.
var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "growrelay",
	Short:         "Sync Hatch Grow records into Google Calendar",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultCfg, _ := config.DefaultPath()
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultCfg, "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		daemonCmd,
		syncOnceCmd,
		serveCmd,
		statusCmd,
		setupCmd,
		uninstallCmd,
		versionCmd,
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "growrelay", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
