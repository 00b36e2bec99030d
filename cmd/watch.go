package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/andresmejia3/faceapi/internal/faceq"
	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/andresmejia3/faceapi/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const megabyte = 1024 * 1024

var watchCmd = &cobra.Command{
	Use:   "watch <video|url|device>",
	Short: "Detect faces in every nth frame of a video, stream or camera",
	Long: "Decodes the source with ffmpeg and submits every nth frame for detection. " +
		"Frames arriving while the request queue is full are dropped so the stream never stalls.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), args[0], opts, os.Stdout)
	},
}

func init() {
	watchCmd.Flags().IntVarP(&opts.NthFrame, "nth-frame", "n", 10, "Detection interval (e.g. detect on every 10th frame)")
	rootCmd.AddCommand(watchCmd)
}

// frameInput is a decoded frame queued for detection.
type frameInput struct {
	*bytes.Reader
	index int
}

func (f *frameInput) Name() string { return fmt.Sprintf("frame-%06d", f.index) }

// watchStats counts frames on the read side of the stream.
type watchStats struct {
	total   atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64
}

// submitFrame queues frame index for detection unless the queue is full.
func submitFrame(sub *faceq.Subsystem, stats *watchStats, index int, frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	in := &frameInput{Reader: bytes.NewReader(buf), index: index}

	_, err := sub.SubmitDetect(in, int64(len(buf)), &types.DetectTable{})
	if errors.Is(err, faceq.ErrQueueFull) {
		stats.dropped.Add(1)
		logger.V(1).Info("request queue full, dropping frame", "frame", index)
		return nil
	}
	if err != nil {
		return err
	}
	stats.sent.Add(1)
	return nil
}

func runWatch(ctx context.Context, source string, o Options, out io.Writer) error {
	if o.NthFrame < 1 {
		err := fmt.Errorf("must be >= 1, got %d", o.NthFrame)
		utils.ShowError("Invalid nth-frame interval", err, nil)
		return err
	}

	sess, err := openSession(ctx, o)
	if err != nil {
		utils.ShowError("Failed to start queue", err, nil)
		return err
	}
	defer sess.close()

	ffmpeg := utils.NewFFmpegCmd(ctx, source)
	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		sess.shutdown()
		utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
		return err
	}
	if err := ffmpeg.Start(); err != nil {
		sess.shutdown()
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	// The frame count of a camera or stream is unknown, so the bar is a spinner
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("👀 Watching"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var (
		stats watchStats
		faces int
	)

	// Reader: split the MJPEG stream and submit every nth frame.
	readFrames := func(ctx context.Context) error {
		// A failed collector must also end a camera stream that never reaches EOF
		stop := context.AfterFunc(ctx, func() { ffmpeg.Process.Kill() })
		defer stop()

		scanner := bufio.NewScanner(ffmpegOut)
		scanner.Buffer(make([]byte, megabyte), 64*megabyte)
		scanner.Split(utils.SplitJpeg)

		for scanner.Scan() {
			n := int(stats.total.Add(1))
			bar.Add(1)
			if n%o.NthFrame != 0 {
				continue
			}
			if err := submitFrame(sess.sub, &stats, n, scanner.Bytes()); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("frame scanner failed: %w", err)
		}
		if err := ffmpeg.Wait(); err != nil && ctx.Err() == nil {
			utils.ShowError("FFmpeg execution failed", err, ffmpeg)
			return err
		}
		return nil
	}

	// Detections are printed as they arrive, in frame order.
	err = sess.run(ctx, readFrames, func(res faceq.Result) error {
		faces += res.Sink.Len()
		printFrame(out, res)
		return journal(ctx, res)
	})
	if err != nil {
		bar.Exit()
		if ffmpeg.ProcessState == nil && ffmpeg.Process != nil {
			ffmpeg.Process.Kill()
			ffmpeg.Wait()
		}
		utils.ShowError("Watch failed", err, sess.engine)
		return err
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n🏁 Watch complete. Submitted %d keyframes out of %d total (%d dropped on a full queue), %d faces, %d failed.\n",
		stats.sent.Load(), stats.total.Load(), stats.dropped.Load(), faces, sess.sub.Stats().Failed)
	return nil
}

// printFrame writes one line per frame result.
func printFrame(out io.Writer, res faceq.Result) {
	name := sourceOf(res)
	if res.Err != nil {
		fmt.Fprintf(out, "%s\tERROR: %v\n", name, res.Err)
		return
	}
	rows := faceRows(res.Sink)
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(out, "%s\t%d face(s)", name, len(rows))
	for _, row := range rows {
		fmt.Fprintf(out, "\t[%s %s]", row[0], row[1])
	}
	fmt.Fprintln(out)
}
