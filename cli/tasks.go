package cli

import (
	"encoding/json"
	"os"

	"github.com/absmach/fedrepair/pkg/sdk"
	"github.com/absmach/fedrepair/task"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10

	taskFile     string
	defectClass  string
	taskFunction string
	taskLine     int
	description  string
	codeFile     string
)

var psdk sdk.SDK

func SetSDK(s sdk.SDK) {
	psdk = s
}

func NewTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [submit|queued|result|results|withdraw]",
		Short: "Repair tasks",
		Long:  `Submit, list, inspect and withdraw repair tasks on a coordinator.`,
	}

	submitCmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit task",
		Long: `Submit a repair task for the defect located in <file>.

Examples:
  # Submit from flags
  fedrepair-cli tasks submit pkg/cache/lru.go --class off_by_one --line 42 --description "evicts one entry too early"

  # Submit a task described in JSON
  fedrepair-cli tasks submit --from task.json`,
		Run: func(cmd *cobra.Command, args []string) {
			t, err := taskFromFlags(args)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if t.Location.File == "" {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			t, err = psdk.SubmitTask(t)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, t)
		},
	}
	submitCmd.Flags().StringVar(&taskFile, "from", "", "JSON file holding the whole task")
	submitCmd.Flags().StringVarP(&defectClass, "class", "c", "", "Defect class")
	submitCmd.Flags().StringVarP(&taskFunction, "function", "f", "", "Enclosing function")
	submitCmd.Flags().IntVar(&taskLine, "line", 0, "Line of the defect")
	submitCmd.Flags().StringVarP(&description, "description", "d", "", "Defect description")
	submitCmd.Flags().StringVar(&codeFile, "code", "", "Source file to attach as the code snapshot")

	queuedCmd := &cobra.Command{
		Use:   "queued",
		Short: "List queued tasks",
		Long:  `List tasks waiting for the next round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := psdk.ListQueued(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	resultCmd := &cobra.Command{
		Use:   "result <id>",
		Short: "View task result",
		Long:  `View the terminal result of a task, including every attempt.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			res, err := psdk.GetResult(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, res)
		},
	}

	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "List task results",
		Long:  `List terminal results recorded by the coordinator.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := psdk.ListResults(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	withdrawCmd := &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Withdraw task",
		Long:  `Withdraw a queued task or cancel a running one.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := psdk.WithdrawTask(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(submitCmd)
	cmd.AddCommand(queuedCmd)
	cmd.AddCommand(resultCmd)
	cmd.AddCommand(resultsCmd)
	cmd.AddCommand(withdrawCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return cmd
}

func taskFromFlags(args []string) (task.RepairTask, error) {
	var t task.RepairTask
	if taskFile != "" {
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return task.RepairTask{}, err
		}
		if err := json.Unmarshal(data, &t); err != nil {
			return task.RepairTask{}, err
		}
	}

	if len(args) == 1 {
		t.Location.File = args[0]
	}
	if defectClass != "" {
		t.DefectClass = defectClass
	}
	if taskFunction != "" {
		t.Location.Function = taskFunction
	}
	if taskLine > 0 {
		t.Location.StartLine = taskLine
		t.Location.EndLine = taskLine
	}
	if description != "" {
		t.Description = description
	}
	if codeFile != "" {
		code, err := os.ReadFile(codeFile)
		if err != nil {
			return task.RepairTask{}, err
		}
		t.Snapshot.Code = string(code)
	}

	return t, nil
}
