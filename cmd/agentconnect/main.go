package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ykute07/agentconnect/pkg/config"
	"github.com/ykute07/agentconnect/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
)

func main() {
	root := &cobra.Command{
		Use:     "agentconnect",
		Short:   "Autonomous agent runtime with interaction control",
		Version: formatVersion(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logger.SetLevel(logger.DEBUG)
			}
		},
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "Path to config file")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(),
		newChatCmd(),
		newHubCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func formatVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (git: %s)", version, gitCommit)
	}
	return version
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".agentconnect", "config.json")
}

func loadConfigFrom(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = cfg.Agent.Name
	}
	return cfg, nil
}
