package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/history"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/roomcode"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newReceiveCmd(a *app) *cobra.Command {
	var (
		flags clientFlags
		dir   string
	)

	cmd := &cobra.Command{
		Use:   "receive code-or-link",
		Short: "receive a file",
		Long:  `joins the room named by a code or a receiver link and saves the file the sender streams`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _, err := roomcode.ParseLink(args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.config.Client.DownloadDir
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			ctx, stop := signalContext(cmd)
			defer stop()

			client, err := a.connect(ctx, flags)
			if err != nil {
				return err
			}
			defer client.Shutdown()

			joined, err := client.Join(ctx, code, protocol.RoleReceiver)
			if err != nil {
				return fmt.Errorf("joining room %s: %w", code, err)
			}
			if !joined.Paired {
				fmt.Fprintln(out, "Waiting for the sender...")
			}

			var bar *progressbar.ProgressBar
			art, err := client.Receive(ctx, peer.ReceiveOptions{
				OnMeta: func(meta protocol.FileMeta) {
					size := int64(-1)
					if meta.HasSize {
						size = meta.Size
					}
					fmt.Fprintf(out, "Receiving %s from %s\n", meta.Filename, meta.Sharer)
					bar = newProgressBar(cmd.ErrOrStderr(), size, "receiving")
				},
				OnProgress: func(received int64, _ int) {
					if bar != nil {
						_ = bar.Set64(received)
					}
				},
			})
			if err != nil {
				return err
			}
			if bar != nil {
				_ = bar.Finish()
			}

			path := uniquePath(dir, safeName(art.Meta.Filename), time.Now())
			if err := os.WriteFile(path, art.Data, 0o644); err != nil {
				return fmt.Errorf("saving %s: %w", path, err)
			}

			a.recordHistory(ctx, &history.Transfer{
				Direction: history.Received,
				RoomCode:  code,
				Filename:  art.Meta.Filename,
				Sharer:    art.Meta.Sharer,
				Size:      int64(len(art.Data)),
				MIMEType:  art.MIMEType,
				Checksum:  art.Meta.Checksum,
				Path:      path,
			})

			if err := client.Leave(ctx); err != nil {
				a.logger.Debugf("Failed to leave room: %v", err)
			}
			fmt.Fprintf(out, "Saved %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to save into")
	cmd.Flags().StringVar(&flags.relayURL, "relay", "", "relay url (ws://, wss://, http(s)://, quic://, rtc+http(s)://)")
	return cmd
}
