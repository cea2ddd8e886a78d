// Package cmd implements the sidechain-sync command line
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/output"
)

var (
	verbose     bool
	configPath  string
	outputFmt   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "sidechain-sync",
	Short: "Sidechain sync client",
	Long: `sidechain-sync keeps a local cache of Sidechain notifications, polls,
presence, conversations, stories and creator analytics in step with the
backend, using realtime channels with a polling fallback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if outputFmt != "" && !output.ValidateOutputFormat(outputFmt) {
			return serrors.ValidationError("output", "must be text, json or table")
		}
		// log.file belongs to the structured sync log; CLI messages stay on stderr.
		logger.Init(verbose, "")
		logger.Debug("Config loaded", "dir", config.GetConfigDir())
		return nil
	},
}

// Execute runs the root command and exits non-zero on error
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "err", err)
		fmt.Fprint(os.Stderr, serrors.FormatError(err))
		os.Exit(1)
	}
}

func printer() *output.Printer {
	p := output.Default()
	if outputFmt != "" {
		p.Format = output.ParseFormat(outputFmt)
	}
	return p
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/sidechain/sync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&outputFmt, "output", "", "Output format: text, json, table")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /debug/cache on this address")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(presenceCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(storiesCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(versionCmd)
}
