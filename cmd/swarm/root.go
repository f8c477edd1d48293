package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/trace"
)

type rootOptions struct {
	configPath string
	logDir     string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:           "swarm",
		Short:         "Multi-agent BTC futures trading swarm",
		Long:          "swarm runs a set of cooperating agents (market analysis, risk, execution, research, external signals) that vote on BTC futures trades on LN Markets.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			if err := logger.Init(); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			if err := trace.Init(version); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := trace.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to flush traces: %v\n", err)
			}
		},
	}

	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "config.yaml", "config file; defaults apply when it does not exist")
	root.PersistentFlags().StringVar(&o.logDir, "trade-log-dir", "", "trade journal directory (default $TRADER_LOG_DIR or logs/trades)")

	root.AddCommand(newRunCmd(o))
	root.AddCommand(newStatusCmd(o))
	root.AddCommand(newChatCmd(o))
	root.AddCommand(newOpinionCmd(o))
	root.AddCommand(newProposeCmd(o))
	return root
}
