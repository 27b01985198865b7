package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/classroom-attendance/internal/capture"
	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/metrics"
	"github.com/kozaktomas/classroom-attendance/internal/video"
	"github.com/kozaktomas/classroom-attendance/internal/web"
	"github.com/kozaktomas/classroom-attendance/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the attendance HTTP API.
The server accepts live camera frames, photo and video uploads, manages the
student roster and serves per-slot attendance views and CSV exports. When
RTSP_URL is set the RTSP worker can be started and stopped over the API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("memory", false, "Use in-memory storage instead of PostgreSQL")
	serveCmd.Flags().Bool("rtsp-autostart", false, "Start the RTSP worker with the server")
}

// resolveServeHostPort applies the flag overrides to the web config.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

// newScheduler builds the RTSP worker, or nil when no stream is configured.
func newScheduler(a *app) (*capture.Scheduler, *video.RTSPSource, error) {
	if a.cfg.Capture.RTSPURL == "" {
		return nil, nil, nil
	}
	preset, err := a.detector.Preset(a.cfg.Capture.Preset)
	if err != nil {
		return nil, nil, err
	}
	source := video.NewRTSPSource(a.cfg.Capture.RTSPURL, a.logger)
	sched := capture.New(source, a.pipeline, capture.Options{
		Interval:   a.cfg.Capture.Interval,
		FrameSkip:  a.cfg.Capture.FrameSkip,
		StartAfter: a.cfg.Capture.StartAfter,
		Preset:     preset,
		Metrics:    a.metrics,
		Logger:     a.logger,
	})
	return sched, source, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, mustGetBool(cmd, "memory"))
	if err != nil {
		return err
	}
	defer closeStore()
	fmt.Printf("Using %s storage backend\n", database.BackendName())

	sched, source, err := newScheduler(a)
	if err != nil {
		return err
	}

	svc := web.Services{
		Pipeline:  a.pipeline,
		Presets:   a.detector,
		Reports:   a.reports,
		Ledger:    a.ledger,
		Roster:    a.roster,
		Students:  a.students,
		Staff:     a.staff,
		Media:     a.media,
		Extractor: video.NewExtractor(cfg.Media.FrameInterval),
		Health: map[string]handlers.Pinger{
			"database":  handlers.PingFunc(database.Ping),
			"embedding": handlers.PingFunc(a.embedder.Health),
		},
		Metrics: metrics.Handler(a.registry),
	}
	// A nil notifier stays a nil interface so the handler reports sent=0.
	if a.notifier != nil {
		svc.Notifier = a.notifier
	}
	if sched != nil {
		svc.Scheduler = sched
		fmt.Printf("RTSP worker available for %s\n", cfg.Capture.RTSPURL)
	} else {
		fmt.Println("RTSP_URL not set, RTSP worker disabled")
	}

	server := web.NewServer(ctx, cfg, svc)

	if sched != nil && mustGetBool(cmd, "rtsp-autostart") {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting RTSP worker: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		if sched != nil {
			sched.Stop()
			sched.Wait()
			if err := source.Close(); err != nil {
				fmt.Printf("Error closing RTSP stream: %v\n", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		cancel()
	}()

	fmt.Printf("Starting attendance API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
