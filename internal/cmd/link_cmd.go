package cmd

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/roomcode"
	"github.com/spf13/cobra"
)

func newLinkCmd(a *app) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "link [code]",
		Short: "print the link a receiver opens to join a room",
		Long:  `prints the receiver link for code, or for a freshly generated code when none is given`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				code = args[0]
				if err := roomcode.Validate(code); err != nil {
					return err
				}
			} else {
				var err error
				if code, err = roomcode.New(); err != nil {
					return err
				}
			}

			if !cmd.Flags().Changed("base") {
				base = a.config.Client.LinkBase
			}
			link, err := roomcode.ReceiverLink(base, code)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "page the link points at")
	return cmd
}
