package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/classroom-attendance/internal/config"
)

var rtspCmd = &cobra.Command{
	Use:   "rtsp",
	Short: "Run the RTSP attendance worker without the API",
	Long: `Scan the RTSP stream from RTSP_URL on a fixed interval and mark recognized
students present until interrupted. Status is printed after every change.

Examples:
  attendance rtsp
  attendance rtsp --preset far --url rtsp://camera.local/stream`,
	RunE: runRTSP,
}

func init() {
	rootCmd.AddCommand(rtspCmd)

	rtspCmd.Flags().String("url", "", "RTSP stream URL (overrides RTSP_URL)")
	rtspCmd.Flags().String("preset", "", "Distance preset (defaults to ATTENDANCE_PRESET)")
	rtspCmd.Flags().Bool("memory", false, "Use in-memory storage instead of PostgreSQL")
	rtspCmd.Flags().Bool("once", false, "Run a single recognition cycle and exit")
}

func runRTSP(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if url := mustGetString(cmd, "url"); url != "" {
		cfg.Capture.RTSPURL = url
	}
	if p := mustGetString(cmd, "preset"); p != "" {
		cfg.Capture.Preset = p
	}
	if cfg.Capture.RTSPURL == "" {
		return errors.New("RTSP_URL environment variable or --url is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, mustGetBool(cmd, "memory"))
	if err != nil {
		return err
	}
	defer closeStore()

	sched, source, err := newScheduler(a)
	if err != nil {
		return err
	}
	defer source.Close()

	if mustGetBool(cmd, "once") {
		res, err := sched.CheckNow(ctx)
		if err != nil {
			return fmt.Errorf("recognition cycle: %w", err)
		}
		fmt.Printf("Tier %s: %d faces, %d recognized, %d unrecognized\n",
			res.Tier, len(res.Detections), len(res.Matches), res.Unrecognized)
		for _, m := range res.Matches {
			fmt.Printf("  %s  %-24s %.1f%%\n", m.Roll, m.Name, m.Confidence)
		}
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Scanning %s every %s (preset %s), press Ctrl+C to stop\n",
		cfg.Capture.RTSPURL, cfg.Capture.Interval, sched.Status().Preset)

	ticker := time.NewTicker(cfg.Capture.Interval)
	defer ticker.Stop()
	var last string
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping...")
			sched.Stop()
			sched.Wait()
			return nil
		case <-ticker.C:
			st := sched.Status()
			var rolls []string
			for _, m := range st.LastRecognized {
				rolls = append(rolls, m.Roll+"@"+m.Slot)
			}
			line := fmt.Sprintf("recognized=[%s] skipped=%d", strings.Join(rolls, " "), st.SkippedTicks)
			if st.LastError != "" {
				line += " error=" + st.LastError
			}
			if line != last {
				fmt.Println(line)
				last = line
			}
		}
	}
}
