package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/media"
	"github.com/kozaktomas/classroom-attendance/internal/video"
)

var mediaCmd = &cobra.Command{
	Use:   "media <file>",
	Short: "Mark attendance from a photo or a recorded video",
	Long: `Recognize students in a classroom photo or video and mark them present.
Videos are sampled every MEDIA_FRAME_INTERVAL; a student seen in several frames
is marked once. Records are stamped with --timestamp, or the current time.

Examples:
  attendance media class.jpg
  attendance media lecture.mp4 --timestamp 2024-03-11T10:20:00+05:30 --preset far`,
	Args: cobra.ExactArgs(1),
	RunE: runMedia,
}

func init() {
	rootCmd.AddCommand(mediaCmd)

	mediaCmd.Flags().String("preset", "", "Distance preset (defaults to ATTENDANCE_PRESET)")
	mediaCmd.Flags().String("timestamp", "", "Capture time in RFC 3339 (defaults to now)")
	mediaCmd.Flags().Bool("memory", false, "Use in-memory storage instead of PostgreSQL")
	mediaCmd.Flags().Bool("json", false, "Output the result as JSON")
}

var videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true}

func runMedia(cmd *cobra.Command, args []string) error {
	path := args[0]
	jsonOutput := mustGetBool(cmd, "json")

	at := time.Now()
	if ts := mustGetString(cmd, "timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return fmt.Errorf("invalid --timestamp: %w", err)
		}
		at = parsed.In(time.Local)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	a, err := newApp(ctx, cfg, mustGetBool(cmd, "memory"))
	if err != nil {
		return err
	}
	defer closeStore()

	preset, err := a.detector.Preset(mustGetString(cmd, "preset"))
	if err != nil {
		return err
	}

	var res *media.BatchResult
	if videoExtensions[strings.ToLower(filepath.Ext(path))] {
		res, err = processVideoFile(ctx, a, cfg, path, at, preset, jsonOutput)
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		res, err = a.media.ProcessImage(ctx, data, at, preset)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(res)
	}
	printBatchResult(res)
	return nil
}

// processVideoFile runs the video through the media processor with a
// progress bar on stderr unless quiet is set.
func processVideoFile(ctx context.Context, a *app, cfg *config.Config, path string, at time.Time, preset detect.Preset, quiet bool) (*media.BatchResult, error) {
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Processing frames"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		defer bar.Finish()
	}

	onFrame := func(p media.Progress) {
		if bar == nil {
			return
		}
		if p.Total > 0 && bar.GetMax() != p.Total {
			bar.ChangeMax(p.Total)
		}
		bar.Describe(fmt.Sprintf("Processing frames (%d recognized)", p.Recognized))
		_ = bar.Set(p.Frame)
	}

	extractor := video.NewExtractor(cfg.Media.FrameInterval)
	return a.media.ProcessVideo(ctx, extractor, path, at, preset, onFrame)
}

func printBatchResult(res *media.BatchResult) {
	fmt.Printf("Frames: %d, recognized: %d, unrecognized faces: %d\n", res.Frames, len(res.Matches), res.Unrecognized)
	for _, m := range res.Marked {
		state := "already marked"
		if m.Created {
			state = "marked"
		}
		fmt.Printf("  %-10s %-24s %5.1f%%  %s %s (%s)\n", m.Roll, m.Name, m.Confidence, m.Date, m.Slot, state)
	}
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
