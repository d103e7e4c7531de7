package cmd

import (
	"fmt"
	"strconv"

	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <face_id> <name>",
	Short:       "Assign a person name to a collected face",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.ShowError("Invalid face ID", err)
			return err
		}
		name := args[1]

		if err := DB.LabelFace(cmd.Context(), id, name); err != nil {
			utils.ShowError("Failed to label face", err)
			return err
		}

		fmt.Printf("✅ Face %d labeled as '%s'\n", id, name)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:         "forget <face_id>",
	Short:       "Remove a collected face",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.ShowError("Invalid face ID", err)
			return err
		}

		if err := DB.RemoveFace(cmd.Context(), id); err != nil {
			utils.ShowError("Failed to remove face", err)
			return err
		}

		fmt.Printf("🗑️  Face %d removed\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(forgetCmd)
}
