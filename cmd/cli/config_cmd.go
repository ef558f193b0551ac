package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yourusername/debridget/internal/app"
	"github.com/yourusername/debridget/internal/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigPath()
		if len(args) == 1 {
			path = args[0]
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := app.SaveConfig(domain.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(configFile)
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("Effective configuration"))
		fmt.Printf("  Server:     %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Database:   %s\n", cfg.Database.Driver)
		fmt.Printf("  Mock:       %t\n", cfg.Providers.Mock.Enabled)
		fmt.Printf("  TorBox:     %t (token %s)\n", cfg.Providers.TorBox.Enabled, tokenState(cfg.Providers.TorBox.APIToken))
		fmt.Printf("  RealDebrid: %t (token %s)\n", cfg.Providers.RealDebrid.Enabled, tokenState(cfg.Providers.RealDebrid.APIToken))
		fmt.Printf("  Poller:     %t every %s\n", cfg.Poller.Enabled, cfg.Poller.Interval)
		fmt.Printf("  Logs:       %s\n", cfg.Logging.LogsDir)
		return nil
	},
}

func tokenState(token string) string {
	if token == "" {
		return "missing"
	}
	return "set"
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("configs", "config.yaml")
	}
	return filepath.Join(home, ".debridget", "config.yaml")
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
