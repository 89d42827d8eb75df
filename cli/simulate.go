package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/simulation"
	"github.com/spf13/cobra"
)

var (
	simClients    int
	simTasks      int
	simRounds     int
	simSeed       uint64
	simPolicyFile string
	simCodec      string
	simVerbose    bool
)

// SimulationDefaults seeds the simulate flags, usually from the CLI config
// file.
func SimulationDefaults(clients, tasks, rounds int) {
	simClients, simTasks, simRounds = clients, tasks, rounds
}

func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a federation",
		Long: `Run an aggregator and several coordinators with scripted agents in one
process and print the policy every round produced.

Examples:
  fedrepair-cli simulate --clients 4 --tasks 20 --rounds 5
  fedrepair-cli simulate --policy policy.yaml --codec cbor`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg := simulation.Config{
				Clients:        simClients,
				TasksPerClient: simTasks,
				Rounds:         simRounds,
				Seed:           simSeed,
				Policy:         policy.Default(),
			}
			if simPolicyFile != "" {
				p, err := policy.LoadFile(simPolicyFile)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				cfg.Policy = p
			}

			codec, err := fl.CodecFor(simCodec)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			cfg.Codec = codec

			var out io.Writer = io.Discard
			if simVerbose {
				out = os.Stderr
			}
			logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))

			report, err := simulation.Run(cmd.Context(), cfg, logger)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, report)
		},
	}

	cmd.Flags().IntVar(&simClients, "clients", simClients, "Number of coordinators")
	cmd.Flags().IntVar(&simTasks, "tasks", simTasks, "Tasks per coordinator per round")
	cmd.Flags().IntVar(&simRounds, "rounds", simRounds, "Number of rounds")
	cmd.Flags().Uint64Var(&simSeed, "seed", 1, "Random seed for scripted agent confidences")
	cmd.Flags().StringVar(&simPolicyFile, "policy", "", "Policy file for the first round")
	cmd.Flags().StringVar(&simCodec, "codec", "json", "Wire codec: json or cbor")
	cmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false, "Log service activity to stderr")

	return cmd
}
