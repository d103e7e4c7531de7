package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all collected faces in the database",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		faces, err := DB.ListFaces(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to list faces", err)
			return err
		}

		if len(faces) == 0 {
			fmt.Println("No faces found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tIMAGE\tQUALITY\tBLUR\tCREATED")
		fmt.Fprintln(w, "--\t----\t-----\t-------\t----\t-------")

		for _, f := range faces {
			name := f.PersonName
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				f.ID, name, filepath.Base(f.Path), dash(f.Quality), dash(f.BlurLevel),
				f.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
