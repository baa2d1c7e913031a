package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/relay"
	"github.com/spf13/cobra"
)

func newRelayCmd(a *app) *cobra.Command {
	var (
		addr        string
		quicAddr    string
		tlsCert     string
		tlsKey      string
		webrtc      bool
		singleUse   bool
		lenient     bool
		idleTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "run the relay server",
		Long:  `runs the relay that pairs senders with receivers and forwards file events between them`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config.Relay.ServerConfig()
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("quic-addr") {
				cfg.QUICAddr = quicAddr
			}
			if flags.Changed("tls-cert") {
				cfg.TLSCert = tlsCert
			}
			if flags.Changed("tls-key") {
				cfg.TLSKey = tlsKey
			}
			if flags.Changed("webrtc") {
				cfg.WebRTC = webrtc
			}
			if flags.Changed("single-use") {
				cfg.SingleUse = singleUse
			}
			if flags.Changed("lenient-codes") {
				cfg.StrictCodes = !lenient
			}
			if flags.Changed("idle-timeout") {
				cfg.IdleTimeout = idleTimeout
			}
			cfg.Logger = a.logger

			server, err := relay.NewServer(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := server.Shutdown(); err != nil {
					a.logger.Errorf("Failed to shut down relay: %v", err)
				}
			}()

			ctx, stop := signalContext(cmd)
			defer stop()

			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address for websocket, WebRTC signalling and health")
	cmd.Flags().StringVar(&quicAddr, "quic-addr", "", "listen address for QUIC clients (disabled when empty)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "PEM certificate for QUIC (self-signed when empty)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "PEM private key for --tls-cert")
	cmd.Flags().BoolVar(&webrtc, "webrtc", true, "accept WebRTC data channel clients")
	cmd.Flags().BoolVar(&singleUse, "single-use", false, "seal rooms once they have paired")
	cmd.Flags().BoolVar(&lenient, "lenient-codes", false, "accept room codes that are not six digits")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "expire rooms left waiting this long (0 disables)")
	return cmd
}
