package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/faceapi/internal/faceq"
	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/andresmejia3/faceapi/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// runBatch submits every image for op, collects the results and prints them to out.
func runBatch(ctx context.Context, op types.Op, paths []string, o Options, out io.Writer) error {
	if err := validateInputs(paths); err != nil {
		utils.ShowError("Invalid input", err, nil)
		return err
	}

	sess, err := openSession(ctx, o)
	if err != nil {
		utils.ShowError("Failed to start queue", err, nil)
		return err
	}
	defer sess.close()

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription(fmt.Sprintf("🔍 %s", op)),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var (
		results []faceq.Result
		files   []*os.File
	)
	// Inputs of dropped requests never come back, so every file is closed here.
	defer func() { closeAll(files) }()

	submitAll := func(ctx context.Context) error {
		for _, path := range paths {
			f, size, err := utils.OpenImage(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			files = append(files, f)
			table := types.NewTable(op)
			_, err = submitWithRetry(ctx, sess.sub, func() (uuid.UUID, error) {
				return sess.sub.Submit(f, size, table)
			})
			if err != nil {
				return fmt.Errorf("failed to submit %s: %w", path, err)
			}
		}
		return nil
	}

	err = sess.run(ctx, submitAll, func(res faceq.Result) error {
		bar.Add(1)
		results = append(results, res)
		return journal(ctx, res)
	})
	if err != nil {
		bar.Exit()
		utils.ShowError(fmt.Sprintf("%s batch failed", op), err, sess.engine)
		return err
	}
	bar.Finish()

	writeResults(out, results)

	stats := sess.sub.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 %s complete. %d of %d images processed, %d faces, %d failed.\n",
		op, len(results), len(paths), countFaces(results), stats.Failed)
	if stats.Failed > 0 && !o.Queue.ReportFailures {
		fmt.Fprintln(os.Stderr, "⚠️  Failed images are dropped. Use --report-failures (and --verbose) for details.")
	}
	return nil
}

// validateInputs ensures every path is a readable file before the engine starts.
func validateInputs(paths []string) error {
	if len(paths) == 0 {
		return errors.New("no input images")
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("unable to access %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory, expected an image file", p)
		}
	}
	return nil
}

func countFaces(results []faceq.Result) int {
	n := 0
	for _, r := range results {
		if r.Sink != nil {
			n += r.Sink.Len()
		}
	}
	return n
}

// writeResults prints one row per face, or one row per image without faces.
func writeResults(out io.Writer, results []faceq.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tFACE\tRECT\tDETAILS")
	fmt.Fprintln(w, "------\t----\t----\t-------")

	for _, res := range results {
		source := filepath.Base(sourceOf(res))
		if res.Err != nil {
			fmt.Fprintf(w, "%s\t-\t-\tERROR: %v\n", source, res.Err)
			continue
		}
		rows := faceRows(res.Sink)
		if len(rows) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\tno faces\n", source)
			continue
		}
		for i, row := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", source, i+1, row[0], row[1])
		}
	}
	w.Flush()
}

// faceRows renders each face of a table as {rect, details}.
func faceRows(t types.Table) [][2]string {
	var rows [][2]string
	switch t := t.(type) {
	case *types.DetectTable:
		for _, f := range t.Results {
			rows = append(rows, [2]string{fmtRect(f.Rect), fmt.Sprintf("%s, age %.0f", f.Attr.Gender, f.Attr.Age)})
		}
	case *types.RegisterTable:
		for _, f := range t.Results {
			rows = append(rows, [2]string{fmtRect(f.Rect), "registered as " + f.PersonID})
		}
	case *types.IdentifyTable:
		for _, f := range t.Results {
			details := "unknown"
			if f.Matched() {
				details = fmt.Sprintf("%s (%.2f)", f.PersonID, f.Confidence)
			}
			rows = append(rows, [2]string{fmtRect(f.Rect), details})
		}
	}
	return rows
}

func fmtRect(r types.Rect) string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}
