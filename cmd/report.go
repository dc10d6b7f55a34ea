package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/guardrail"
	"github.com/sells-group/intel-cli/internal/report"
)

var reportRebuild bool

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print the latest report of a run",
	Long:  "Prints the latest markdown report. With --rebuild, re-renders it from approved findings first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if reportRebuild {
			r, err := env.Pipeline.RebuildReport(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "rebuild report")
			}
			_, err = fmt.Fprintln(os.Stdout, r.Body)
			return err
		}

		r, err := env.Store.LatestReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load report")
		}
		if r == nil {
			return eris.Errorf("run %s has no report yet", args[0])
		}
		_, err = fmt.Fprintln(os.Stdout, r.Body)
		return err
	},
}

var exportOut string
var exportApprovedOnly bool

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export the capability matrix of a run as XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Pipeline.ReportData(ctx, args[0], exportApprovedOnly)
		if err != nil {
			return err
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrap(err, "create export file")
		}
		if err := report.WriteCapabilityMatrix(f, d); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "write capability matrix")
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close export file")
		}

		zap.L().Info("capability matrix exported",
			zap.String("run_id", args[0]),
			zap.String("path", exportOut),
			zap.Int("capabilities", len(d.Capabilities)),
		)
		return nil
	},
}

var guardrailsCmd = &cobra.Command{
	Use:   "guardrails <run-id>",
	Short: "Evaluate quality guardrails for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := guardrail.NewEvaluator(env.Store, env.Settings).EvaluateRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "evaluate guardrails")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportRebuild, "rebuild", false, "rebuild the report from approved findings")

	exportCmd.Flags().StringVar(&exportOut, "out", "matrix.xlsx", "output XLSX path")
	exportCmd.Flags().BoolVar(&exportApprovedOnly, "approved-only", false, "include only approved findings")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(guardrailsCmd)
}
