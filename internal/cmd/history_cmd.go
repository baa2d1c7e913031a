package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit     int
		direction string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "list files sent and received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := history.Direction(direction)
			if dir != "" && dir != history.Sent && dir != history.Received {
				return fmt.Errorf("unknown direction %q, want %q or %q", direction, history.Sent, history.Received)
			}

			return a.withHistory(func(store *history.Store) error {
				transfers, err := store.List(cmd.Context(), dir, limit)
				if err != nil {
					return err
				}
				if len(transfers) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transfers yet")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tWHEN\tDIRECTION\tFILE\tSIZE\tPEER\tPATH")
				for _, t := range transfers {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						t.ID,
						humanize.Time(time.Unix(t.CreatedAt, 0)),
						t.Direction,
						t.Filename,
						humanize.Bytes(uint64(max(t.Size, 0))),
						t.Sharer,
						t.Path,
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many transfers (0 for all)")
	cmd.Flags().StringVar(&direction, "direction", "", "only show sent or received transfers")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "delete id",
			Short: "forget one transfer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var id uint
				if _, err := fmt.Sscan(args[0], &id); err != nil {
					return fmt.Errorf("invalid id %q", args[0])
				}
				return a.withHistory(func(store *history.Store) error {
					return store.Delete(cmd.Context(), id)
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "forget every transfer",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withHistory(func(store *history.Store) error {
					n, err := store.Clear(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d transfers\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) withHistory(fn func(store *history.Store) error) error {
	path := a.config.Client.HistoryDB
	if path == "" {
		return errors.New("history is disabled (client.history_db is empty)")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	db, err := history.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	return fn(history.NewStore(db))
}
