// Package cmd is the bridge's CLI surface, built with spf13/cobra in the
// teacher's cmd/ style: a package-level rootCmd, one file per command
// group, each registering itself via an init() call to rootCmd.AddCommand.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/crabeye/mcp-bridge/internal/version"
)

// configPathEnvVar provides the default --config value when the flag is
// absent, per spec.md §6.
const configPathEnvVar = "MCP_BRIDGE_CONFIG"

var (
	configPath   string
	validateOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "crabeye-mcp-bridge",
	Short: "Aggregate many MCP servers behind a single search_tools/run_tool interface",
	Long: "crabeye-mcp-bridge presents itself to a single downstream MCP client as one server\n" +
		"while multiplexing many upstream MCP servers behind the scenes, namespacing their\n" +
		"tools and exposing only two meta-tools (search_tools, run_tool) to keep the\n" +
		"downstream client's context window small.",
	SilenceUsage: true,
	RunE:         runRoot,
}

func init() {
	rootCmd.Version = version.GetVersion()
	rootCmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"",
		fmt.Sprintf("path to the bridge config file (overrides env var %s)", configPathEnvVar),
	)
	rootCmd.Flags().BoolVar(
		&validateOnly,
		"validate",
		false,
		"parse and validate the config file, print the resolved upstream table, then exit",
	)
}

// runRoot is the bare-binary entry point: --validate short-circuits into a
// parse-and-print-then-exit check, otherwise the bridge starts normally.
// Per spec.md §6 this is a flag on the root invocation, not a subcommand.
func runRoot(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	if validateOnly {
		return runValidate(cmd, args)
	}
	return runStart(cmd, args)
}

// resolveConfigPath applies the --config-flag-then-env-var precedence
// spec.md §6 names for MCP_BRIDGE_CONFIG.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	if fromEnv := os.Getenv(configPathEnvVar); fromEnv != "" {
		return fromEnv, nil
	}
	return "", fmt.Errorf("no config path given: pass --config or set %s", configPathEnvVar)
}

// Execute runs the CLI, returning the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
