package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds [drain|status|view|close]",
		Short: "Federated rounds",
		Long:  `Drain a coordinator round and inspect or close aggregator rounds.`,
	}

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Drain round",
		Long:  `Run every queued task on the coordinator as one round and publish its statistics.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			report, err := psdk.DrainRound()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, report)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Open round status",
		Long:  `Show which clients reported to the aggregator's open round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			status, err := psdk.RoundStatus()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, status)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <round>",
		Short: "View round",
		Long:  `View the reports the aggregator recorded for a round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			state, err := psdk.GetRound(round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, state)
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Close round",
		Long:  `Close the aggregator's open round now and issue the next policy update.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			update, err := psdk.CloseRound()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, update)
		},
	}

	cmd.AddCommand(drainCmd)
	cmd.AddCommand(statusCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(closeCmd)

	return cmd
}

func NewUpdatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updates [latest|view|redeliver]",
		Short: "Global policy updates",
		Long:  `Inspect and redeliver the policy updates issued by the aggregator.`,
	}

	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "Latest update",
		Long:  `View the most recent global policy update.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			update, err := psdk.LatestUpdate()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, update)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <round>",
		Short: "View update",
		Long:  `View the global policy update issued for a round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			update, err := psdk.GetUpdate(round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, update)
		},
	}

	redeliverCmd := &cobra.Command{
		Use:   "redeliver",
		Short: "Redeliver update",
		Long:  `Publish the latest global policy update again.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			update, err := psdk.Redeliver()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, update)
		},
	}

	cmd.AddCommand(latestCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(redeliverCmd)

	return cmd
}
