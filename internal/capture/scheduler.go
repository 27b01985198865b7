// Package capture samples a continuous frame source on a fixed interval and
// feeds admitted frames through the recognition pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/constants"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/metrics"
	"github.com/kozaktomas/classroom-attendance/internal/pipeline"
	"github.com/kozaktomas/classroom-attendance/internal/recognize"
)

// DefaultInterval between two ticks.
const DefaultInterval = constants.DefaultScanInterval

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrBusy           = errors.New("a recognition cycle is already in flight")
)

// FrameSource returns the most recent frame as an encoded image.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// Cycle is the two-phase detect and submit work of one tick.
type Cycle interface {
	Identify(ctx context.Context, frame []byte, preset detect.Preset) (*pipeline.Result, error)
	Submit(ctx context.Context, matches []recognize.Match, at time.Time, source database.Source) ([]pipeline.Marked, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval   time.Duration
	FrameSkip  int
	StartAfter *time.Time
	Preset     detect.Preset
	Source     database.Source
	Metrics    *metrics.PipelineMetrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Status is a snapshot of the scheduler for display.
type Status struct {
	Running        bool              `json:"running"`
	Preset         string            `json:"preset"`
	IntervalMS     int64             `json:"interval_ms"`
	FrameSkip      int               `json:"frame_skip"`
	StartAfter     *time.Time        `json:"start_after,omitempty"`
	Detecting      bool              `json:"detecting"`
	Posting        bool              `json:"posting"`
	LastFrameAt    *time.Time        `json:"last_frame_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Latest         []recognize.Match `json:"latest"`
	LastRecognized []pipeline.Marked `json:"last_recognized"`
	SkippedTicks   uint64            `json:"skipped_ticks"`
}

// Scheduler drives periodic recognition over a FrameSource. At most one
// detection and one submission are in flight; ticks that find either busy
// are skipped, not queued.
type Scheduler struct {
	source FrameSource
	cycle  Cycle

	interval   time.Duration
	frameSkip  int
	startAfter *time.Time
	sourceTag  database.Source
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger
	now        func() time.Time

	// session lifecycle
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	generation atomic.Uint64
	detecting  atomic.Bool
	posting    atomic.Bool
	ticks      atomic.Uint64
	skipped    atomic.Uint64
	inflight   sync.WaitGroup

	// display state
	stateMu     sync.RWMutex
	preset      detect.Preset
	latest      []recognize.Match
	history     []pipeline.Marked
	lastFrameAt time.Time
	lastError   string
}

// New creates an idle scheduler.
func New(source FrameSource, cycle Cycle, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Interval < config.MinCaptureInterval {
		opts.Interval = config.MinCaptureInterval
	}
	if opts.FrameSkip < 0 {
		opts.FrameSkip = 0
	}
	if opts.Source == "" {
		opts.Source = database.SourceRTSP
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		source:     source,
		cycle:      cycle,
		interval:   opts.Interval,
		frameSkip:  opts.FrameSkip,
		startAfter: opts.StartAfter,
		sourceTag:  opts.Source,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "capture"),
		now:        opts.Now,
		preset:     opts.Preset,
	}
}

// SetPreset changes the distance preset used by subsequent cycles.
func (s *Scheduler) SetPreset(p detect.Preset) {
	s.stateMu.Lock()
	s.preset = p
	s.stateMu.Unlock()
}

// Start begins a session bounded by ctx. ctx must outlive the request that
// started it; Stop ends the session early.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.ticks.Store(0)

	s.stateMu.Lock()
	gen := s.generation.Add(1)
	s.latest = nil
	s.lastError = ""
	s.stateMu.Unlock()

	s.logger.Info("capture started", "interval", s.interval, "frame_skip", s.frameSkip, "preset", s.currentPreset().Name)
	go s.loop(sessCtx, gen, s.done)
	return nil
}

// Stop cancels the ticker and waits for the loop to exit. Cycles already in
// flight finish on their own, and their results are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	// Results check the generation under stateMu, so none lands after this.
	s.stateMu.Lock()
	s.generation.Add(1)
	s.latest = nil
	s.stateMu.Unlock()
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("capture stopped")
}

// Wait blocks until every in-flight cycle has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Running reports whether a session is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, gen)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, gen uint64) {
	n := s.ticks.Add(1)
	if s.frameSkip > 0 && (n-1)%uint64(s.frameSkip+1) != 0 {
		s.skip("frame_skip")
		return
	}
	if !s.acquire() {
		s.skip("busy")
		return
	}

	// In-flight cycles are not aborted by Stop.
	cycleCtx := context.WithoutCancel(ctx)
	at := s.now()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.run(cycleCtx, gen, at); err != nil {
			s.logger.Warn("capture cycle failed", "error", err)
		}
	}()
}

// CheckNow runs one immediate cycle under the same guards as a tick.
func (s *Scheduler) CheckNow(ctx context.Context) (*pipeline.Result, error) {
	if !s.acquire() {
		s.skip("busy")
		return nil, ErrBusy
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	return s.run(ctx, s.generation.Load(), s.now())
}

// acquire takes the detecting guard unless a detection or a submission is in
// flight. posting is read after the CAS: a cycle sets it before it releases
// detecting.
func (s *Scheduler) acquire() bool {
	if !s.detecting.CompareAndSwap(false, true) {
		return false
	}
	if s.posting.Load() {
		s.detecting.Store(false)
		return false
	}
	return true
}

func (s *Scheduler) skip(reason string) {
	s.skipped.Add(1)
	s.metrics.IncSkippedTicks(reason)
}

// run executes one cycle. The caller must hold the detecting guard.
func (s *Scheduler) run(ctx context.Context, gen uint64, at time.Time) (*pipeline.Result, error) {
	detecting := true
	release := func() {
		if detecting {
			detecting = false
			s.detecting.Store(false)
		}
	}
	defer release()

	start := time.Now()
	defer func() { s.metrics.ObserveCycle(string(s.sourceTag), time.Since(start).Seconds()) }()

	frame, err := s.source.Frame(ctx)
	if err != nil {
		err = fmt.Errorf("read frame: %w", err)
		s.fail(gen, err)
		return nil, err
	}

	res, err := s.cycle.Identify(ctx, frame, s.currentPreset())
	if err != nil {
		s.fail(gen, err)
		return nil, err
	}
	s.frameSeen(gen, at)

	if len(res.Matches) == 0 {
		s.publish(gen, nil, nil)
		return res, nil
	}
	if s.startAfter != nil && at.Before(*s.startAfter) {
		s.publish(gen, res.Matches, nil)
		return res, nil
	}

	// Take the posting guard before dropping the detecting one so a tick
	// never observes both free in between.
	if !s.posting.CompareAndSwap(false, true) {
		s.skip("posting")
		return res, nil
	}
	release()
	defer s.posting.Store(false)

	marked, err := s.cycle.Submit(ctx, res.Matches, at, s.sourceTag)
	if err != nil {
		s.fail(gen, fmt.Errorf("submit: %w", err))
		return res, err
	}
	s.publish(gen, res.Matches, marked)
	return res, nil
}

// update applies fn to the display state unless Stop or Start has moved past gen.
func (s *Scheduler) update(gen uint64, fn func()) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.generation.Load() != gen {
		return
	}
	fn()
}

func (s *Scheduler) currentPreset() detect.Preset {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.preset
}

func (s *Scheduler) frameSeen(gen uint64, at time.Time) {
	s.update(gen, func() { s.lastFrameAt = at })
}

// fail treats the tick as empty and keeps err for display.
func (s *Scheduler) fail(gen uint64, err error) {
	s.update(gen, func() {
		s.latest = nil
		s.lastError = err.Error()
	})
}

func (s *Scheduler) publish(gen uint64, matches []recognize.Match, marked []pipeline.Marked) {
	s.update(gen, func() {
		s.latest = matches
		s.lastError = ""
		s.history = append(s.history, marked...)
		if len(s.history) > constants.HistorySize {
			s.history = append([]pipeline.Marked(nil), s.history[len(s.history)-constants.HistorySize:]...)
		}
	})
}

// Latest returns the most recent accepted recognition set.
func (s *Scheduler) Latest() []recognize.Match {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make([]recognize.Match, len(s.latest))
	copy(out, s.latest)
	return out
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	running := s.Running()

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := Status{
		Running:        running,
		Preset:         s.preset.Name,
		IntervalMS:     s.interval.Milliseconds(),
		FrameSkip:      s.frameSkip,
		StartAfter:     s.startAfter,
		Detecting:      s.detecting.Load(),
		Posting:        s.posting.Load(),
		LastError:      s.lastError,
		Latest:         append([]recognize.Match{}, s.latest...),
		LastRecognized: append([]pipeline.Marked{}, s.history...),
		SkippedTicks:   s.skipped.Load(),
	}
	if !s.lastFrameAt.IsZero() {
		t := s.lastFrameAt
		st.LastFrameAt = &t
	}
	return st
}
