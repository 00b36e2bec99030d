package cmd

import (
	"os"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>...",
	Short: "Match every face in the images against the person group",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBatch(cmd.Context(), types.OpIdentify, args, opts, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}
