package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/script"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run <script.js>",
	Short: "Execute an orchestration script and print its result envelope",
	Long: `Execute one orchestration script through the runtime and print the
result envelope as JSON. Pass "-" to read the script from stdin.
The process exits non-zero when the script fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "config file (YAML or JSON)")
}

// runEnvelope is the CLI's printed form of a result: the envelope plus the
// script's accumulated output buffer.
type runEnvelope struct {
	*script.Result
	Output []string `json:"output,omitempty"`
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger()

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	source, err := readSource(args[0])
	if err != nil {
		return err
	}

	res := c.Runtime.Execute(cmd.Context(), source)

	out, err := json.MarshalIndent(runEnvelope{
		Result: res,
		Output: c.Runtime.Output().Items(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))

	if res.Status != script.StatusSuccess {
		return fmt.Errorf("script failed: %s", res.Error)
	}
	return nil
}

func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script %s: %w", path, err)
	}
	return string(data), nil
}
