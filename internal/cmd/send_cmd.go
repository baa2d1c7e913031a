package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rudransh-shrivastava/peer-drop/internal/history"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/roomcode"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/spf13/cobra"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		flags    clientFlags
		code     string
		mimeType string
	)

	cmd := &cobra.Command{
		Use:   "send path/to/file",
		Short: "send a file",
		Long: `opens a room, prints the code and link for the receiver, waits for them
to join and then streams the file through the relay`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			stat, err := f.Stat()
			if err != nil {
				return err
			}
			if stat.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}

			checksum, err := transfer.HashFile(f)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", path, err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}

			name := filepath.Base(path)
			if mimeType == "" {
				mimeType = transfer.DetectMIME(name)
			}
			info := peer.FileInfo{
				Name:     name,
				Size:     stat.Size(),
				MIMEType: mimeType,
				Checksum: checksum,
			}

			if code == "" {
				if code, err = roomcode.New(); err != nil {
					return err
				}
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			client, err := a.connect(ctx, flags)
			if err != nil {
				return err
			}
			defer client.Shutdown()

			joined, err := client.Join(ctx, code, protocol.RoleSender)
			if err != nil {
				return fmt.Errorf("joining room %s: %w", code, err)
			}

			fmt.Fprintf(out, "Room code: %s\n", joined.Code)
			if link, err := roomcode.ReceiverLink(a.config.Client.LinkBase, joined.Code); err == nil {
				fmt.Fprintf(out, "Receiver link: %s\n", link)
			}

			if !joined.Paired {
				fmt.Fprintln(out, "Waiting for the receiver to join...")
				if err := client.WaitForPeer(ctx); err != nil {
					return err
				}
			}

			bar := newProgressBar(cmd.ErrOrStderr(), info.Size, "sending "+name)
			err = client.SendFile(ctx, info, f, func(sent int64, _ int) {
				_ = bar.Set64(sent)
			})
			if err != nil {
				if errors.Is(err, peer.ErrPeerLeft) || errors.Is(err, peer.ErrNoPeer) {
					return fmt.Errorf("receiver went away: %w", err)
				}
				return err
			}
			_ = bar.Finish()

			a.recordHistory(ctx, &history.Transfer{
				Direction: history.Sent,
				RoomCode:  joined.Code,
				Filename:  name,
				Sharer:    client.Name(),
				Size:      info.Size,
				MIMEType:  info.MIMEType,
				Checksum:  info.Checksum,
			})

			if err := client.Leave(ctx); err != nil {
				a.logger.Debugf("Failed to leave room: %v", err)
			}
			fmt.Fprintf(out, "Sent %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "room code to use instead of a random one")
	cmd.Flags().StringVar(&mimeType, "type", "", "MIME type to announce (guessed from the extension by default)")
	cmd.Flags().StringVar(&flags.relayURL, "relay", "", "relay url (ws://, wss://, http(s)://, quic://, rtc+http(s)://)")
	cmd.Flags().StringVar(&flags.name, "name", "", "name shown to the receiver as the sharer")
	return cmd
}
