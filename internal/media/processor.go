// Package media runs recognition over uploaded photos and recorded videos.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/metrics"
	"github.com/kozaktomas/classroom-attendance/internal/pipeline"
	"github.com/kozaktomas/classroom-attendance/internal/recognize"
)

// ErrNoFrames is returned when a video yields no frame at all.
var ErrNoFrames = errors.New("no frames extracted")

// Cycle identifies faces in one frame and marks matches present.
type Cycle interface {
	Identify(ctx context.Context, frame []byte, preset detect.Preset) (*pipeline.Result, error)
	Submit(ctx context.Context, matches []recognize.Match, at time.Time, source database.Source) ([]pipeline.Marked, error)
}

// Frame is one still extracted from a video.
type Frame struct {
	Index  int // 0-based
	Offset time.Duration
	Total  int // estimated number of frames, 0 when unknown
	Data   []byte
}

// FrameExtractor walks the frames of a video in order, calling fn for each.
// Returning an error from fn stops the walk.
type FrameExtractor interface {
	Extract(ctx context.Context, path string, fn func(Frame) error) error
}

// Progress is reported after every processed video frame.
type Progress struct {
	Frame      int   `json:"frame"` // 1-based
	Total      int   `json:"total"`
	Recognized int   `json:"recognized"`
	Err        error `json:"-"`
}

// BatchResult is the outcome of one photo or video.
type BatchResult struct {
	Frames       int                `json:"frames"`
	Matches      []recognize.Match  `json:"matches"`
	Marked       []pipeline.Marked  `json:"marked"`
	Unrecognized int                `json:"unrecognized"`
	Errors       []string           `json:"errors"`
	Detections   []detect.Detection `json:"detections,omitempty"`
}

// Processor runs batches strictly one frame at a time.
type Processor struct {
	cycle   Cycle
	limiter *rate.Limiter
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithFrameRate caps frame processing at perSecond frames; zero disables the cap.
func WithFrameRate(perSecond float64) Option {
	return func(p *Processor) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithMetrics records per-frame failures.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// New creates a processor.
func New(cycle Cycle, opts ...Option) *Processor {
	p := &Processor{cycle: cycle, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "media")
	return p
}

// checkTimestamp fails fast for timestamps the ledger would reject anyway.
func checkTimestamp(at time.Time) error {
	if at.IsZero() {
		return nil
	}
	if _, err := attendance.SlotAt(at); err != nil {
		return fmt.Errorf("timestamp %s: %w", at.Format(time.RFC3339), err)
	}
	return nil
}

// ProcessImage runs one detect, recognize and mark cycle over a photo. Every
// record is stamped with at; a zero at means now.
func (p *Processor) ProcessImage(ctx context.Context, data []byte, at time.Time, preset detect.Preset) (*BatchResult, error) {
	if err := checkTimestamp(at); err != nil {
		return nil, err
	}
	res, err := p.cycle.Identify(ctx, data, preset)
	if err != nil {
		return nil, err
	}
	out := &BatchResult{
		Frames:       1,
		Matches:      res.Matches,
		Unrecognized: res.Unrecognized,
		Errors:       []string{},
		Detections:   res.Detections,
	}
	return p.submit(ctx, out, at)
}

// ProcessVideo extracts frames from path and identifies each one in order.
// Per-frame failures are collected and do not stop the batch. Recognitions are
// deduplicated by roll, first occurrence wins, and marked with at.
func (p *Processor) ProcessVideo(ctx context.Context, frames FrameExtractor, path string, at time.Time, preset detect.Preset, onFrame func(Progress)) (*BatchResult, error) {
	if err := checkTimestamp(at); err != nil {
		return nil, err
	}

	out := &BatchResult{Matches: []recognize.Match{}, Errors: []string{}}
	seen := make(map[string]struct{})

	err := frames.Extract(ctx, path, func(f Frame) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		out.Frames++

		res, err := p.cycle.Identify(ctx, f.Data, preset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.IncFrameErrors()
			err = fmt.Errorf("frame %d: %w", f.Index+1, err)
			out.Errors = append(out.Errors, err.Error())
			p.logger.Warn("frame failed", "path", path, "frame", f.Index+1, "error", err)
		} else {
			out.Unrecognized += res.Unrecognized
			for _, m := range res.Matches {
				if _, dup := seen[m.Roll]; dup {
					continue
				}
				seen[m.Roll] = struct{}{}
				out.Matches = append(out.Matches, m)
			}
		}

		if onFrame != nil {
			onFrame(Progress{Frame: f.Index + 1, Total: f.Total, Recognized: len(out.Matches), Err: err})
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if out.Frames == 0 {
			return nil, fmt.Errorf("extract frames: %w", err)
		}
		out.Errors = append(out.Errors, fmt.Sprintf("extract frames: %v", err))
	}
	if out.Frames == 0 {
		return nil, ErrNoFrames
	}

	p.logger.Info("video processed", "path", path, "frames", out.Frames, "recognized", len(out.Matches), "frame_errors", len(out.Errors))
	return p.submit(ctx, out, at)
}

func (p *Processor) submit(ctx context.Context, out *BatchResult, at time.Time) (*BatchResult, error) {
	out.Marked = []pipeline.Marked{}
	if len(out.Matches) == 0 {
		return out, nil
	}
	marked, err := p.cycle.Submit(ctx, out.Matches, at, database.SourceMedia)
	out.Marked = append(out.Marked, marked...)
	if err != nil {
		return out, fmt.Errorf("submit: %w", err)
	}
	return out, nil
}
