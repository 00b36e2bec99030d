package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/andresmejia3/faceapi/internal/utils"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyOp    string
)

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recently journaled results",
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		op, err := opFilter(historyOp)
		if err != nil {
			utils.ShowError("Invalid --op", err, nil)
			return err
		}

		records, err := DB.ListResults(ctx, op, historyLimit)
		if err != nil {
			utils.ShowError("Failed to list results", err, nil)
			return err
		}
		if len(records) == 0 {
			fmt.Println("No results found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tOP\tSOURCE\tFACES\tCOMPLETED\tERROR")
		fmt.Fprintln(w, "--\t--\t------\t-----\t---------\t-----")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ID.String()[:8], r.Op, filepath.Base(r.Source), r.Faces,
				r.CompletedAt.Local().Format("2006-01-02 15:04:05"), r.Error)
		}
		w.Flush()

		counts, err := DB.CountByOp(ctx)
		if err != nil {
			utils.ShowError("Failed to count results", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "\n📊 Totals: %s\n", fmtCounts(counts))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of results to list (0 for all)")
	historyCmd.Flags().StringVar(&historyOp, "op", "", "Only list results of this operation (detect, register, identify)")
	rootCmd.AddCommand(historyCmd)
}

// opFilter validates an --op value. Empty means every operation.
func opFilter(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	op, err := types.ParseOp(strings.ToLower(s))
	if err != nil {
		return "", err
	}
	return op.String(), nil
}

func fmtCounts(counts map[string]int) string {
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, fmt.Sprintf("%s=%d", op, counts[op]))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
