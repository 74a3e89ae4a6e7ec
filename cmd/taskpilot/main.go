// Command taskpilot plans a specification into tasks and drives the
// generate, verify and self-correct loop over a project directory.
//
// Usage:
//
//	# Run a YAML plan against a project until it completes or needs a human
//	taskpilot run --project ./calc --plan plan.yaml
//
//	# Serve the HTTP control surface (or MCP over stdio with --mcp)
//	taskpilot serve --project ./calc
//
//	# Inspect saved checkpoints
//	taskpilot status
//	taskpilot status --checkpoint 6f1c...
//
//	# Live dashboard against a running server
//	taskpilot watch --server http://localhost:9191
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the settings file shared by every command.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Task orchestration engine for code generation",
	Long: `taskpilot decomposes a specification into a dependency-ordered task graph,
generates code for one task at a time, verifies it with the project's own
toolchain and retries with the failure as feedback until the task passes
or a human is needed.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "settings file (YAML)")
	rootCmd.AddCommand(versionCmd)
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "taskpilot by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// defaultConfigPath returns ~/.config/taskpilot/config.yaml, or "" when the
// home directory is unknown. A missing file falls back to defaults.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "taskpilot", "config.yaml")
}
