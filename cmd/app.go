package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/database/memory"
	"github.com/kozaktomas/classroom-attendance/internal/database/postgres"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/fingerprint"
	"github.com/kozaktomas/classroom-attendance/internal/media"
	"github.com/kozaktomas/classroom-attendance/internal/metrics"
	"github.com/kozaktomas/classroom-attendance/internal/notify"
	"github.com/kozaktomas/classroom-attendance/internal/pipeline"
	"github.com/kozaktomas/classroom-attendance/internal/recognize"
	"github.com/kozaktomas/classroom-attendance/internal/report"
	"github.com/kozaktomas/classroom-attendance/internal/roster"
)

// app holds the wired attendance components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	students database.StudentWriter
	staff    database.StaffWriter
	records  database.AttendanceWriter

	embedder   *fingerprint.EmbeddingClient
	detector   *detect.Detector
	recognizer *recognize.Recognizer
	ledger     *attendance.Ledger
	notifier   *notify.Notifier
	pipeline   *pipeline.Pipeline
	roster     *roster.Service
	media      *media.Processor
	reports    *report.Aggregator

	registry *prometheus.Registry
	metrics  *metrics.PipelineMetrics
}

// openStore registers the postgres backend, or an empty in-memory one when
// inMemory is set.
func openStore(ctx context.Context, cfg *config.Config, inMemory bool) error {
	if inMemory {
		memory.NewStore().Register()
		fmt.Println("Using in-memory storage (data is lost on exit)")
		return nil
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required (or use --memory)")
	}
	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(ctx, &cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return nil
}

// closeStore releases the postgres pool if one was opened.
func closeStore() {
	if pool := postgres.GetGlobalPool(); pool != nil {
		if err := pool.Close(); err != nil {
			slog.Warn("closing database", "error", err)
		}
	}
}

// newApp opens the store and wires every component.
func newApp(ctx context.Context, cfg *config.Config, inMemory bool) (*app, error) {
	if err := openStore(ctx, cfg, inMemory); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: slog.Default()}
	var err error
	if a.students, err = database.GetStudentWriter(); err != nil {
		return nil, err
	}
	if a.staff, err = database.GetStaffWriter(); err != nil {
		return nil, err
	}
	if a.records, err = database.GetAttendanceWriter(); err != nil {
		return nil, err
	}

	a.registry = metrics.NewRegistry()
	if a.metrics, err = metrics.NewPipelineMetrics(a.registry); err != nil {
		return nil, err
	}

	a.embedder = fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Timeout)
	if a.detector, err = detect.New(a.embedder, cfg.Detection, a.logger); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	a.recognizer = recognize.New(a.students, cfg.Roster.CacheTTL,
		recognize.WithAcceptanceFloor(cfg.Detection.AcceptanceFloor),
		recognize.WithLogger(a.logger),
	)
	a.ledger = attendance.NewLedger(a.records, a.students, a.logger)

	sender, err := notify.NewShoutrrrSender(cfg.Notify.URLs, cfg.Notify.Timeout)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	if sender != nil {
		a.notifier = notify.New(sender, a.logger)
	}

	a.pipeline = pipeline.New(a.detector, a.recognizer, a.ledger,
		pipeline.WithNotifier(a.notifier),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
	)
	a.roster = roster.NewService(a.students, a.records, a.detector, a.detector.NearestPreset(), a.recognizer, a.logger)
	a.media = media.New(a.pipeline,
		media.WithFrameRate(cfg.Media.FrameRate),
		media.WithMetrics(a.metrics),
		media.WithLogger(a.logger),
	)
	a.reports = report.New(a.ledger, a.students, a.logger)
	return a, nil
}

// staffContext resolves a staff email into the cohort scope of a report.
func (a *app) staffContext(ctx context.Context, email string) (*attendance.StaffContext, error) {
	if email == "" {
		return nil, errors.New("--staff is required")
	}
	st, err := a.staff.GetStaff(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("unknown staff member %s", email)
		}
		return nil, err
	}
	return attendance.NewStaffContext(st), nil
}
