package cli

import (
	"fmt"

	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/spf13/cobra"
)

var global bool

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy [show|validate|default]",
		Short: "Scheduling policy",
		Long:  `Show the policy in force and validate policy files.`,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show policy",
		Long:  `Show the policy the coordinator runs, or the aggregator's global policy with --global.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			show := psdk.ClientPolicy
			if global {
				show = psdk.GlobalPolicy
			}

			snap, err := show()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, snap)
		},
	}
	showCmd.Flags().BoolVarP(&global, "global", "g", false, "Show the aggregator's global policy")

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate policy file",
		Long:  `Parse a JSON, TOML or YAML policy file, overlay it on the defaults and validate it.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			p, err := policy.LoadFile(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, fmt.Sprintf("%s is a valid policy", args[0]))
			logJSONCmd(*cmd, p)
		},
	}

	defaultCmd := &cobra.Command{
		Use:   "default",
		Short: "Print default policy",
		Long:  `Print the built-in default policy as a starting point for a policy file.`,
		Run: func(cmd *cobra.Command, args []string) {
			logJSONCmd(*cmd, policy.Default())
		},
	}

	cmd.AddCommand(showCmd)
	cmd.AddCommand(validateCmd)
	cmd.AddCommand(defaultCmd)

	return cmd
}
