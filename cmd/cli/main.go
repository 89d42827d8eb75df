package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/absmach/fedrepair"
	"github.com/absmach/fedrepair/cli"
	"github.com/absmach/fedrepair/pkg/sdk"
	"github.com/spf13/cobra"
)

const defConfigPath = "fedrepair.toml"

func main() {
	var (
		configPath     string
		coordinatorURL string
		aggregatorURL  string
	)

	cfg, err := fedrepair.LoadConfig(defConfigPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(err)
	}
	cli.SimulationDefaults(cfg.Simulation.Clients, cfg.Simulation.Tasks, cfg.Simulation.Rounds)

	rootCmd := &cobra.Command{
		Use:   "fedrepair-cli",
		Short: "Federated repair CLI",
		Long:  `fedrepair-cli talks to repair coordinators and the round aggregator, and simulates whole federations locally.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("config") {
				loaded, err := fedrepair.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if coordinatorURL != "" {
				cfg.Coordinator.URL = coordinatorURL
			}
			if aggregatorURL != "" {
				cfg.Aggregator.URL = aggregatorURL
			}

			s := sdk.NewSDK(sdk.Config{
				CoordinatorURL:  cfg.Coordinator.URL,
				AggregatorURL:   cfg.Aggregator.URL,
				TLSVerification: cfg.Coordinator.TLSVerification || cfg.Aggregator.TLSVerification,
			})
			cli.SetSDK(s)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defConfigPath, "CLI config file")
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator-url", "", "Coordinator URL, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&aggregatorURL, "aggregator-url", "", "Aggregator URL, overrides the config file")

	rootCmd.AddCommand(cli.NewTasksCmd())
	rootCmd.AddCommand(cli.NewRoundsCmd())
	rootCmd.AddCommand(cli.NewUpdatesCmd())
	rootCmd.AddCommand(cli.NewPolicyCmd())
	rootCmd.AddCommand(cli.NewSimulateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
