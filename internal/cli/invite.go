package cli

import (
	"fmt"

	"vpool/internal/model"

	"github.com/spf13/cobra"
)

func newInviteCommand(clientFor func() *Client, jsonOutput func() bool) *cobra.Command {
	var assetName string

	cmd := &cobra.Command{
		Use:   "invite <stage-id>",
		Short: "Invite an available virtual participant to a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := clientFor().Invite(cmd.Context(), &model.CreateInvitationRequest{
				StageID:   args[0],
				AssetName: assetName,
			})
			if err != nil {
				return err
			}
			if jsonOutput() {
				printJSON(cmd.OutOrStdout(), raw)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invited a virtual participant to stage %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&assetName, "asset", "", "asset the participant should render")
	return cmd
}

func newKickCommand(clientFor func() *Client, jsonOutput func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "kick <stage-id>",
		Short: "Evict the virtual participant assigned to a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := clientFor().Kick(cmd.Context(), &model.KickWorkerRequest{StageID: args[0]})
			if err != nil {
				return err
			}
			if jsonOutput() {
				printJSON(cmd.OutOrStdout(), raw)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kicked the virtual participant from stage %s\n", args[0])
			return nil
		},
	}
}
