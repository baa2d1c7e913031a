// Package cmd wires the peerdrop command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app is shared by every subcommand and filled in before any of them run.
type app struct {
	configPath string
	verbose    bool

	config config.Config
	logger *logrus.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "peerdrop",
		Short:         "share a file with one other person through a relay",
		Long:          `peerdrop pairs a sender and a receiver in a room named by a six digit code and streams one file between them`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath(), "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newRelayCmd(a),
		newSendCmd(a),
		newReceiveCmd(a),
		newHistoryCmd(a),
		newLinkCmd(a),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.config = cfg

	level := logrus.InfoLevel
	if a.verbose {
		level = logrus.DebugLevel
	}
	a.logger = logger.New(cmd.ErrOrStderr(), level)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		logger.NewLogger().Error(err)
		os.Exit(1)
	}
}
