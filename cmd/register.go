package cmd

import (
	"os"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <image>...",
	Short: "Register every face in the images as a new person",
	Long:  "Adds each detected face to the person group (--person-group) and prints the assigned person IDs.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBatch(cmd.Context(), types.OpRegister, args, opts, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
