package cmd

import (
	"os"

	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/logx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mmnchain",
	Short: "MMN chain state machine node",
	Long:  "Command line interface for running an MMN chain node and inspecting its genesis and reorg state.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}

// loadNodeConfig reads chain.ini, falling back to defaults when the file is absent.
func loadNodeConfig(path string, dataDir string) (*config.NodeConfig, error) {
	cfg, err := config.LoadNodeConfig(path)
	if config.IsNotExist(err) {
		logx.Warn("CMD", "No config at ", path, ", using defaults")
		cfg, err = config.DefaultNodeConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Chain.DataDir = dataDir
		cfg.Store.Directory = ""
	}
	return cfg, nil
}
