package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "Show recent batch runs",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		runs, err := DB.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			utils.ShowError("Failed to list runs", err)
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No batch runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tROOT\tSTARTED\tDURATION\tTOTAL\tACCEPTED\tINVALID\tFAILED\tRETRIES")
		fmt.Fprintln(w, "---\t----\t-------\t--------\t-----\t--------\t-------\t------\t-------")

		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				r.ID.String()[:8], r.Root, r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
				r.Total, r.Accepted, r.Invalid, r.Failed, r.Retries)
		}
		w.Flush()
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show (0 = all)")
	rootCmd.AddCommand(runsCmd)
}
