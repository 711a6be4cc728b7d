package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/consensus"
	"github.com/mezonai/mmnchain/events"
	"github.com/mezonai/mmnchain/exception"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/monitoring"
	"github.com/mezonai/mmnchain/node"
	"github.com/spf13/cobra"
)

var (
	runConfigPath     string
	runGenesisPath    string
	runValidatorsPath string
	runDataDir        string
	runVerbose        bool
	runMaintenance    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the chain node",
	Long: `Open the chain stores, recover an interrupted reorg, create the genesis
block on first start, then keep promoting and pruning orphans until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runNode(); err != nil {
			logx.Error("CMD", "Node stopped: ", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/chain.ini", "Path to chain.ini")
	runCmd.Flags().StringVar(&runGenesisPath, "genesis", "config/genesis.yml", "Path to genesis.yml")
	runCmd.Flags().StringVar(&runValidatorsPath, "validators", "config/validators.yml", "Path to the finality validator roster")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Override [chain] data_dir")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Mirror logs to stdout")
	runCmd.Flags().DurationVar(&runMaintenance, "maintenance-interval", 5*time.Second, "Orphan promotion and pruning interval")
}

func runNode() error {
	if runVerbose {
		logx.MirrorToStdout()
	}
	monitoring.InitMetrics()

	cfg, err := loadNodeConfig(runConfigPath, runDataDir)
	if err != nil {
		return err
	}

	validators, err := config.LoadValidators(runValidatorsPath)
	if err != nil {
		if !config.IsNotExist(err) {
			return err
		}
		logx.Warn("CMD", "No validator roster at ", runValidatorsPath)
	}

	n, err := node.Open(cfg, node.Options{
		GenesisPath: runGenesisPath,
		Validators:  validators,
		OnMisbehavior: func(e consensus.Evidence) {
			logx.Error("SLASHING", fmt.Sprintf("validator=%s height=%d first=%s second=%s",
				e.Validator, e.Height, e.FirstHash, e.SecondHash))
		},
	})
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subID, eventCh := n.Events().Subscribe()
	defer n.Events().Unsubscribe(subID)
	exception.SafeGo("EventLogger", func() { logEvents(ctx, eventCh) })

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		monitoring.RegisterMetrics(mux)
		srv := &http.Server{Addr: addr, Handler: mux}
		exception.SafeGo("MetricsServer", func() {
			logx.Info("CMD", "Serving metrics on ", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Error("CMD", "Metrics server failed: ", err)
			}
		})
		defer srv.Close()
	}

	exception.SafeGoWithPanic("OrphanMaintenance", func() { n.RunMaintenance(ctx, runMaintenance) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logx.Info("CMD", "Received ", sig, ", shutting down")
	return nil
}

func logEvents(ctx context.Context, ch <-chan events.ChainEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *events.ChainReorganized:
				logx.Info("EVENTBUS", fmt.Sprintf("%s fork_point=%d depth=%d new_tip=%s height=%d",
					e.Type(), e.ForkPoint, e.Depth, e.BlockHash(), e.NewHeight))
			case *events.BlockFinalized:
				logx.Info("EVENTBUS", fmt.Sprintf("%s height=%d hash=%s signers=%d", e.Type(), e.Height, e.BlockHash(), e.Signers))
			default:
				logx.Debug("EVENTBUS", fmt.Sprintf("%s hash=%s", ev.Type(), ev.BlockHash()))
			}
		}
	}
}
