package cmd

import (
	"os"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>...",
	Short: "Detect faces and estimate gender and age",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBatch(cmd.Context(), types.OpDetect, args, opts, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
