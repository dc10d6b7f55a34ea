package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
)

var (
	runProjectID string
	runRunID     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the research pipeline synchronously",
	Long:  "Creates a run for --project and orchestrates it in-process, or resumes an existing NEW run given by --run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if (runProjectID == "") == (runRunID == "") {
			return eris.New("exactly one of --project or --run is required")
		}

		env, err := initApp(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		runID := runRunID
		if runID == "" {
			if _, err := env.Store.GetProject(ctx, runProjectID); err != nil {
				return eris.Wrap(err, "load project")
			}
			run, err := env.Store.CreateRun(ctx, runProjectID)
			if err != nil {
				return eris.Wrap(err, "create run")
			}
			runID = run.ID
		}

		zap.L().Info("run started", zap.String("run_id", runID))
		runErr := env.Pipeline.Run(ctx, runID)

		run, err := env.Store.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load run")
		}
		logs, err := env.Store.ListRunLogs(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load run logs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runWithLogs{Run: run, Logs: logLines(logs)}); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "pipeline run")
		}

		zap.L().Info("run finished",
			zap.String("run_id", runID),
			zap.String("status", string(run.Status)),
		)
		return nil
	},
}

// runWithLogs is a run and its log lines as shown by run, runs show and the API.
type runWithLogs struct {
	*model.Run
	Logs []string `json:"logs"`
}

func logLines(logs []model.RunLog) []string {
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Line
	}
	return out
}

func init() {
	runCmd.Flags().StringVar(&runProjectID, "project", "", "project ID to create a new run for")
	runCmd.Flags().StringVar(&runRunID, "run", "", "existing run ID to orchestrate")
	rootCmd.AddCommand(runCmd)
}
