// Package recognize maps face embeddings to enrolled students.
package recognize

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// DefaultAcceptanceFloor is the minimum confidence, in percent, of an accepted match.
const DefaultAcceptanceFloor = 75.0

const rosterCacheKey = "roster"

// Match is an accepted identity decision.
type Match struct {
	Roll       string  `json:"roll"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

type reference struct {
	roll      string
	name      string
	embedding []float32
}

// Snapshot is an immutable view of the enrolled reference embeddings, ordered by roll.
type Snapshot struct {
	refs []reference
}

// NewSnapshot keeps the students that have a reference embedding.
func NewSnapshot(students []database.Student) *Snapshot {
	refs := make([]reference, 0, len(students))
	for _, st := range students {
		if len(st.Embedding) == 0 {
			continue
		}
		refs = append(refs, reference{roll: st.Roll, name: st.Name, embedding: st.Embedding})
	}
	slices.SortFunc(refs, func(a, b reference) int { return strings.Compare(a.roll, b.roll) })
	return &Snapshot{refs: refs}
}

// Len returns the number of enrolled references.
func (s *Snapshot) Len() int {
	return len(s.refs)
}

// Best returns the closest reference. Equal distances resolve to the lower roll.
func (s *Snapshot) Best(embedding []float32) (Match, bool) {
	var best Match
	found := false
	for _, ref := range s.refs {
		d := CosineDistance(embedding, ref.embedding)
		if !found || d < best.Distance {
			best = Match{Roll: ref.roll, Name: ref.name, Distance: d, Confidence: Confidence(d)}
			found = true
		}
	}
	return best, found
}

// Recognizer accepts or rejects embeddings against a cached roster snapshot.
type Recognizer struct {
	roster database.StudentReader
	floor  float64
	cache  *cache.Cache
	loadMu sync.Mutex
	logger *slog.Logger
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithAcceptanceFloor overrides DefaultAcceptanceFloor.
func WithAcceptanceFloor(floor float64) Option {
	return func(r *Recognizer) { r.floor = floor }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recognizer) { r.logger = logger }
}

// New creates a recognizer whose roster snapshot lives for ttl.
func New(roster database.StudentReader, ttl time.Duration, opts ...Option) *Recognizer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	r := &Recognizer{
		roster: roster,
		floor:  DefaultAcceptanceFloor,
		cache:  cache.New(ttl, ttl*2),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "recognizer")
	return r
}

// Floor returns the acceptance floor in percent.
func (r *Recognizer) Floor() float64 {
	return r.floor
}

// Snapshot returns the cached roster snapshot, loading it on a miss.
func (r *Recognizer) Snapshot(ctx context.Context) (*Snapshot, error) {
	if v, ok := r.cache.Get(rosterCacheKey); ok {
		return v.(*Snapshot), nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if v, ok := r.cache.Get(rosterCacheKey); ok {
		return v.(*Snapshot), nil
	}

	students, err := r.roster.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	snap := NewSnapshot(students)
	r.cache.Set(rosterCacheKey, snap, cache.DefaultExpiration)
	r.logger.Debug("roster snapshot loaded", "enrolled", snap.Len(), "students", len(students))
	return snap, nil
}

// Invalidate drops the cached snapshot so the next call reloads the roster.
func (r *Recognizer) Invalidate() {
	r.cache.Delete(rosterCacheKey)
}

// Recognize returns the best match for embedding, or nil when the best
// candidate is below the acceptance floor or farther than tolerance.
// A rejection is not an error.
func (r *Recognizer) Recognize(ctx context.Context, embedding []float32, tolerance float64) (*Match, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return r.Decide(snap, embedding, tolerance), nil
}

// Decide applies the acceptance policy against a fixed snapshot.
func (r *Recognizer) Decide(snap *Snapshot, embedding []float32, tolerance float64) *Match {
	best, ok := snap.Best(embedding)
	if !ok {
		return nil
	}
	if best.Confidence < r.floor || best.Distance > tolerance {
		r.logger.Debug("face rejected", "closest", best.Roll, "confidence", best.Confidence,
			"distance", best.Distance, "tolerance", tolerance)
		return nil
	}
	return &best
}
