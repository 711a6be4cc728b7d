package cmd

import (
	"fmt"
	"time"

	"github.com/mezonai/mmnchain/fork"
	"github.com/mezonai/mmnchain/logx"
	"github.com/spf13/cobra"
)

var (
	walConfigPath string
	walDataDir    string
	walClear      bool
)

var walCmd = &cobra.Command{
	Use:   "wal",
	Short: "Inspect the reorg write-ahead log",
	Long: `Print the reorg WAL entry, if any. An InProgress entry means the node
stopped mid-reorg; the next "run" rebuilds the UTXO set and clears it.
Examples:
  wal --data-dir ./data
  wal --data-dir ./data --clear`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspectWAL(); err != nil {
			logx.Error("REORG_WAL", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(walCmd)
	walCmd.Flags().StringVar(&walConfigPath, "config", "config/chain.ini", "Path to chain.ini")
	walCmd.Flags().StringVarP(&walDataDir, "data-dir", "d", "", "Override [chain] data_dir")
	walCmd.Flags().BoolVar(&walClear, "clear", false, "Delete a Committed entry")
}

func inspectWAL() error {
	cfg, err := loadNodeConfig(walConfigPath, walDataDir)
	if err != nil {
		return err
	}
	wal := fork.NewWAL(cfg.Chain.DataDir)
	entry, err := wal.Read()
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Printf("no reorg wal at %s\n", wal.Path())
		return nil
	}

	fmt.Printf("status:      %s\n", entry.Status)
	fmt.Printf("written:     %s\n", time.Unix(entry.Timestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("fork point:  %d\n", entry.ForkPoint)
	fmt.Printf("old tip:     %s (height %d)\n", entry.OldTipHash, entry.OldHeight)
	fmt.Printf("new tip:     %s (height %d)\n", entry.NewTipHash, entry.NewHeight)

	if !walClear {
		return nil
	}
	if entry.Status == fork.WALInProgress {
		return fmt.Errorf("refusing to clear an InProgress entry; start the node to recover")
	}
	return wal.Clear()
}
