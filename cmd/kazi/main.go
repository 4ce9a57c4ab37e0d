// Kazi is a sandboxed orchestration script runtime for AI coding agents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kazi",
	Short: "Sandboxed orchestration script runtime for AI coding agents",
	Long: `Kazi executes agent-authored orchestration scripts in a sandboxed
JavaScript runtime. Scripts call tools, a language model and a session store
through a fixed binding table, bounded by a deadline, a cumulative loop
budget and concurrency limits.`,
	RunE:          runServe, // Default to MCP serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
