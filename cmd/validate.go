package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/crabeye/mcp-bridge/internal/config"
)

// runValidate backs the --validate flag: it loads the config file, resolves
// the upstream server table (applying _bridge defaults and excluding any
// self-referential entry), runs every validation check runStart would run,
// and prints the resolved table. Exits 0 on success and 1 on any error.
func runValidate(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	cmd.Printf("config is valid: %d upstream server(s)\n\n", len(names))
	for _, name := range names {
		sc := cfg.Servers[name]
		switch sc.Transport {
		case config.TransportStdio:
			cmd.Printf("  %-20s stdio    %s %v\n", name, sc.Command, sc.Args)
		default:
			cmd.Printf("  %-20s %-8s %s\n", name, sc.Type, sc.URL)
		}
	}

	return nil
}
