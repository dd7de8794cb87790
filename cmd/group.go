package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/confirm"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage and harvest groups",
}

var (
	groupAccountID  int64
	groupExternalID string
	groupName       string
	groupJoined     bool
)

var groupLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a group to a scraping account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if groupAccountID == 0 || groupExternalID == "" {
			return eris.New("--account and --group-id are required")
		}

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		group, err := env.Orchestrator.LinkGroup(ctx, groupAccountID, groupExternalID, groupName, groupJoined)
		if err != nil {
			return err
		}

		return printJSON(group)
	},
}

var joinGroupID int64

var groupJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Open the group page in a browser and confirm membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if groupAccountID == 0 || joinGroupID == 0 {
			return eris.New("--account and --id are required")
		}

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		joined, err := env.Orchestrator.JoinGroup(ctx, groupAccountID, joinGroupID)
		if err != nil {
			return err
		}

		return printJSON(map[string]any{"group_id": joinGroupID, "joined": joined})
	},
}

var groupScanCmd = &cobra.Command{
	Use:   "scan <group-external-id>",
	Short: "Fetch the group feed and store new posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		posts, err := env.Orchestrator.ScanGroup(ctx, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("group scan complete",
			zap.String("group", args[0]),
			zap.Int("posts", len(posts)),
		)
		return printJSON(posts)
	},
}

func init() {
	groupLinkCmd.Flags().Int64Var(&groupAccountID, "account", 0, "owning account id")
	groupLinkCmd.Flags().StringVar(&groupExternalID, "group-id", "", "group external id")
	groupLinkCmd.Flags().StringVar(&groupName, "name", "", "group display name")
	groupLinkCmd.Flags().BoolVar(&groupJoined, "joined", false, "mark the group as already joined")

	groupJoinCmd.Flags().Int64Var(&groupAccountID, "account", 0, "account id to join with")
	groupJoinCmd.Flags().Int64Var(&joinGroupID, "id", 0, "internal group id")

	groupCmd.AddCommand(groupLinkCmd, groupJoinCmd, groupScanCmd)
	rootCmd.AddCommand(groupCmd)
}
