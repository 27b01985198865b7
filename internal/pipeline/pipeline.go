// Package pipeline runs one detect, recognize and mark cycle over a frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/metrics"
	"github.com/kozaktomas/classroom-attendance/internal/notify"
	"github.com/kozaktomas/classroom-attendance/internal/recognize"
)

// Detector finds faces in a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte, p detect.Preset) (*detect.Result, error)
}

// Recognizer turns an embedding into an accepted match or nil.
type Recognizer interface {
	Recognize(ctx context.Context, embedding []float32, tolerance float64) (*recognize.Match, error)
}

// Marker records presence in the ledger.
type Marker interface {
	MarkAt(ctx context.Context, roll string, opts attendance.MarkOptions) (database.AttendanceRecord, bool, error)
}

// Result of identifying the faces in one frame.
type Result struct {
	Detections   []detect.Detection `json:"detections"`
	Tier         string             `json:"tier"`
	Matches      []recognize.Match  `json:"matches"`
	Unrecognized int                `json:"unrecognized"`
}

// Marked is a match after it was submitted to the ledger.
type Marked struct {
	recognize.Match
	Date    string `json:"date"`
	Slot    string `json:"slot"`
	Created bool   `json:"created"`
}

// Pipeline wires detector, recognizer and ledger together.
type Pipeline struct {
	detector   Detector
	recognizer Recognizer
	marker     Marker
	notifier   *notify.Notifier
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier sends a message for every newly created presence record.
func WithNotifier(n *notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline.
func New(detector Detector, recognizer Recognizer, marker Marker, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:   detector,
		recognizer: recognizer,
		marker:     marker,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Identify detects faces in frame and recognizes each one. Faces of the same
// student within one frame are reported once, first detection wins.
func (p *Pipeline) Identify(ctx context.Context, frame []byte, preset detect.Preset) (*Result, error) {
	det, err := p.detector.Detect(ctx, frame, preset)
	if err != nil {
		p.metrics.IncDetectionErrors()
		return nil, fmt.Errorf("detect: %w", err)
	}
	p.metrics.RecordDetections(det.Tier, len(det.Detections))

	res := &Result{Detections: det.Detections, Tier: det.Tier, Matches: []recognize.Match{}}
	seen := make(map[string]struct{})
	for _, d := range det.Detections {
		m, err := p.recognizer.Recognize(ctx, d.Embedding, preset.Tolerance)
		if err != nil {
			return nil, fmt.Errorf("recognize: %w", err)
		}
		p.metrics.RecordRecognition(m != nil)
		if m == nil {
			res.Unrecognized++
			continue
		}
		if _, dup := seen[m.Roll]; dup {
			continue
		}
		seen[m.Roll] = struct{}{}
		res.Matches = append(res.Matches, *m)
	}
	return res, nil
}

// Submit marks every match present at time at. All matches are attempted;
// the returned error joins the failures.
func (p *Pipeline) Submit(ctx context.Context, matches []recognize.Match, at time.Time, source database.Source) ([]Marked, error) {
	marked := make([]Marked, 0, len(matches))
	var errs []error
	for _, m := range matches {
		rec, created, err := p.marker.MarkAt(ctx, m.Roll, attendance.MarkOptions{
			Confidence: m.Confidence,
			Source:     source,
			At:         at,
		})
		if err != nil {
			p.metrics.IncSubmitErrors()
			errs = append(errs, fmt.Errorf("mark %s: %w", m.Roll, err))
			if errors.Is(err, attendance.ErrOutsideSchedule) {
				// Same outcome for every remaining match.
				break
			}
			continue
		}
		p.metrics.RecordMark(string(source), created)
		if created {
			p.notifier.Present(ctx, m.Name, rec)
		}
		marked = append(marked, Marked{Match: m, Date: rec.Date, Slot: rec.Slot, Created: created})
	}
	return marked, errors.Join(errs...)
}

// Process identifies frame and submits the matches in one cycle.
func (p *Pipeline) Process(ctx context.Context, frame []byte, preset detect.Preset, at time.Time, source database.Source) (*Result, []Marked, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveCycle(string(source), time.Since(start).Seconds()) }()

	res, err := p.Identify(ctx, frame, preset)
	if err != nil {
		return nil, nil, err
	}
	if len(res.Matches) == 0 {
		return res, nil, nil
	}
	marked, err := p.Submit(ctx, res.Matches, at, source)
	if err != nil {
		return res, marked, fmt.Errorf("submit: %w", err)
	}
	return res, marked, nil
}
