// Package detect runs face detection through an ordered list of tiers.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/fingerprint"
	"github.com/kozaktomas/classroom-attendance/internal/imaging"
)

var (
	ErrUnknownPreset = errors.New("unknown distance preset")
	ErrNoFrame       = errors.New("empty frame")
)

// Tier is one set of detector parameters.
type Tier struct {
	Name           string  `json:"name"`
	InputSize      int     `json:"input_size"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// Preset is an operator-selected camera distance. Its tolerance is the
// maximum cosine distance the recognizer accepts for faces found with it.
type Preset struct {
	Name      string  `json:"name"`
	Primary   Tier    `json:"primary"`
	Tolerance float64 `json:"tolerance"`
}

// Detection is one face found in a frame. Box is [x1, y1, x2, y2] in the
// pixel coordinates of the original frame.
type Detection struct {
	Box       [4]float64   `json:"box"`
	Score     float64      `json:"score"`
	Landmarks [][2]float64 `json:"landmarks,omitempty"`
	Embedding []float32    `json:"-"`
}

// Result of one detection call.
type Result struct {
	Detections []Detection
	Tier       string // tier that produced the detections, or the last one tried
	Attempts   int
}

// FaceClient is the embedding server capability the detector needs.
type FaceClient interface {
	ComputeFaceEmbeddings(ctx context.Context, imageData []byte, opts fingerprint.FaceOptions) (*fingerprint.FaceResponse, error)
}

// Detector wraps the external face detector with the tier cascade.
type Detector struct {
	client        FaceClient
	presets       map[string]Preset
	fallback      Tier
	nearest       string
	defaultPreset string
	minConfidence float64
	logger        *slog.Logger
}

// New builds a detector from the detection presets.
func New(client FaceClient, cfg config.DetectionConfig, logger *slog.Logger) (*Detector, error) {
	if len(cfg.Presets) == 0 {
		return nil, errors.New("no detection presets configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Detector{
		client:        client,
		presets:       make(map[string]Preset, len(cfg.Presets)),
		fallback:      Tier{Name: "fallback", InputSize: cfg.Fallback.InputSize, ScoreThreshold: cfg.Fallback.ScoreThreshold},
		defaultPreset: cfg.DefaultPreset,
		minConfidence: cfg.DisplayMinConfidence,
		logger:        logger.With("component", "detector"),
	}
	for name, p := range cfg.Presets {
		d.presets[name] = Preset{
			Name:      name,
			Primary:   Tier{Name: "primary", InputSize: p.InputSize, ScoreThreshold: p.ScoreThreshold},
			Tolerance: p.Tolerance,
		}
	}
	if _, ok := d.presets[d.defaultPreset]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownPreset, d.defaultPreset)
	}

	// The nearest-range preset is the one with the smallest input size.
	names := d.PresetNames()
	sort.SliceStable(names, func(i, j int) bool {
		return d.presets[names[i]].Primary.InputSize < d.presets[names[j]].Primary.InputSize
	})
	d.nearest = names[0]

	return d, nil
}

// PresetNames returns the configured preset names sorted alphabetically.
func (d *Detector) PresetNames() []string {
	names := make([]string, 0, len(d.presets))
	for name := range d.presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Preset looks up a preset by name. An empty name selects the default.
func (d *Detector) Preset(name string) (Preset, error) {
	if name == "" {
		name = d.defaultPreset
	}
	p, ok := d.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// IsNearest reports whether p is the nearest-range preset.
func (d *Detector) IsNearest(p Preset) bool {
	return p.Name == d.nearest
}

// NearestPreset returns the preset used for close-up photos such as enrolment.
func (d *Detector) NearestPreset() Preset {
	return d.presets[d.nearest]
}

// Tiers returns the ordered tiers tried for p. The fallback tier is never
// used for the nearest-range preset.
func (d *Detector) Tiers(p Preset) []Tier {
	if d.IsNearest(p) {
		return []Tier{p.Primary}
	}
	return []Tier{p.Primary, d.fallback}
}

// DisplayFloor is the minimum detection score worth showing to an operator.
func (d *Detector) DisplayFloor() float64 {
	return d.minConfidence
}

// Detect tries each tier of p in order until one yields a detection. A
// detector error stops the cascade.
func (d *Detector) Detect(ctx context.Context, frame []byte, p Preset) (*Result, error) {
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	origW, origH, err := imaging.Dimensions(frame)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	res := &Result{}
	for _, tier := range d.Tiers(p) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Attempts++
		res.Tier = tier.Name

		dets, err := d.detectTier(ctx, frame, origW, origH, tier)
		if err != nil {
			return nil, fmt.Errorf("%s tier: %w", tier.Name, err)
		}
		if len(dets) > 0 {
			res.Detections = dets
			d.logger.Debug("faces detected", "preset", p.Name, "tier", tier.Name, "count", len(dets))
			return res, nil
		}
	}
	return res, nil
}

func (d *Detector) detectTier(ctx context.Context, frame []byte, origW, origH int, tier Tier) ([]Detection, error) {
	resized, err := imaging.Resize(frame, tier.InputSize)
	if err != nil {
		return nil, fmt.Errorf("resize frame: %w", err)
	}
	w, h, err := imaging.Dimensions(resized)
	if err != nil {
		return nil, err
	}
	sx, sy := float64(origW)/float64(w), float64(origH)/float64(h)

	resp, err := d.client.ComputeFaceEmbeddings(ctx, resized, fingerprint.FaceOptions{
		InputSize: tier.InputSize,
		MinScore:  tier.ScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	dets := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if f.DetScore < tier.ScoreThreshold || len(f.Embedding) == 0 {
			continue
		}
		det := Detection{Score: f.DetScore, Embedding: f.Embedding}
		if len(f.BBox) == 4 {
			det.Box = [4]float64{f.BBox[0] * sx, f.BBox[1] * sy, f.BBox[2] * sx, f.BBox[3] * sy}
		}
		for _, lm := range f.Landmarks {
			det.Landmarks = append(det.Landmarks, [2]float64{lm[0] * sx, lm[1] * sy})
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// Displayable returns the detections scoring at or above floor.
func Displayable(dets []Detection, floor float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Score >= floor {
			out = append(out, det)
		}
	}
	return out
}
