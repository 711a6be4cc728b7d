package cmd

import (
	"fmt"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/logx"
	"github.com/spf13/cobra"
)

var genesisPath string

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Build or verify the genesis block",
	Long: `Build the genesis block described by genesis.yml. When the file has no
valid nonce and hash the block is mined and both are written back, so every
later load reproduces the same genesis hash.
Examples:
  genesis --genesis config/genesis.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := buildGenesis(); err != nil {
			logx.Error("GENESIS", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(genesisCmd)
	genesisCmd.Flags().StringVar(&genesisPath, "genesis", "config/genesis.yml", "Path to genesis configuration file")
}

func buildGenesis() error {
	spec, err := config.LoadGenesisSpec(genesisPath)
	if config.IsNotExist(err) {
		logx.Info("GENESIS", "No genesis file at ", genesisPath, ", writing the default allocation")
		spec, err = block.DefaultGenesisSpec(), nil
	}
	if err != nil {
		return err
	}

	genesis, mined, err := block.BuildGenesis(spec)
	if err != nil {
		return err
	}
	if mined {
		block.RecordMined(spec, genesis)
		if err := config.SaveGenesisSpec(genesisPath, spec); err != nil {
			return err
		}
		logx.Info("GENESIS", "Mined genesis and wrote nonce/hash back to ", genesisPath)
	}
	fmt.Printf("genesis hash:  %s\n", genesis.Header.Hash)
	fmt.Printf("nonce:         %d\n", genesis.Header.Nonce)
	fmt.Printf("difficulty:    %d\n", genesis.Header.Difficulty)
	fmt.Printf("allocations:   %d\n", len(spec.Allocations))
	fmt.Printf("merkle root:   %s\n", genesis.Header.MerkleRoot)
	return nil
}
