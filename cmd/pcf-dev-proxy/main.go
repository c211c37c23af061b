// Package main provides the entry point for the pcf-dev-proxy CLI.
//
// pcf-dev-proxy is a local HTTPS proxy for iterating on browser-hosted
// custom components: it substitutes locally built bundles into a live host
// page and hot-reloads running component instances without a navigation.
package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pcf-tools/pcf-dev-proxy/internal/ui"
)

// Version information set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

// rootCmd runs the proxy; subcommands cover the reload trigger and version.
var rootCmd = &cobra.Command{
	Use:   "pcf-dev-proxy",
	Short: "Local HTTPS proxy with hot reload for custom components",
	Long: `pcf-dev-proxy intercepts a control's bundle requests from a remote host
page and serves files built locally instead. With --hot it injects an
in-page runtime that swaps running component instances when the bundle
changes, without reloading the page.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			log.SetLevel(log.DebugLevel)
			log.Debug("Debug logging enabled")
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		ui.SetQuietMode(quiet)
	},
	RunE: runServe,
}

// Execute runs the root command and maps failures to exit code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("%v", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress non-essential output")

	// Serve flags (root command)
	rootCmd.Flags().Int("port", 0, "HTTPS proxy listener port (default 8642)")
	rootCmd.Flags().Int("ws-port", 0, "Hot-reload control plane port (default 8643)")
	rootCmd.Flags().String("dir", "", "Directory with the control's built assets (default .)")
	rootCmd.Flags().String("control", "", "Control identifier (default: from component manifest)")
	rootCmd.Flags().String("browser", "", "Launch a browser through the proxy (chrome|edge)")
	rootCmd.Flags().Bool("hot", false, "Enable hot reload (runtime injection + control plane)")
	rootCmd.Flags().Bool("watch-bundle", false, "Reload automatically when bundle.js changes (requires --hot)")
	rootCmd.Flags().BoolP("yes", "y", false, "Skip confirmations")

	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		ui.PrintInfo("Version: %s", version)
		ui.PrintInfo("Commit: %s", commit)
	},
}

func main() {
	Execute()
}
