package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cli/internal/monitoring"
)

var diffPersist bool

var diffCmd = &cobra.Command{
	Use:   "diff <prev-run-id> <cur-run-id>",
	Short: "Compare the sources of two runs",
	Long:  "Prints the source changes between two runs as JSON. With --persist, records a RISK finding on the current run and sends alerts.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		det := monitoring.NewDetector(st, monitoring.NewAlerter(cfg.Monitoring))

		var rep *monitoring.ChangeReport
		if diffPersist {
			rep, err = det.Run(ctx, args[0], args[1])
		} else {
			rep, err = det.Compare(ctx, args[0], args[1])
		}
		if err != nil {
			return eris.Wrap(err, "diff runs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffPersist, "persist", false, "record a change finding and deliver alerts")
	rootCmd.AddCommand(diffCmd)
}
