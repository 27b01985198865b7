package recognize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/database/memory"
)

// rotated returns a unit 2D vector at the given cosine distance from (1, 0).
func rotated(distance float64) []float32 {
	angle := math.Acos(1 - distance)
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

type countingRoster struct {
	students []database.Student
	calls    int
	err      error
}

func (c *countingRoster) ListStudents(context.Context) ([]database.Student, error) {
	c.calls++
	return c.students, c.err
}

func (c *countingRoster) GetStudent(context.Context, string) (*database.Student, error) {
	return nil, database.ErrNotFound
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 2.0, CosineDistance([]float32{1}, []float32{1, 0}))
	assert.Equal(t, 2.0, CosineDistance(nil, nil))
	assert.Equal(t, 2.0, CosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 100, Confidence(0), 1e-9)
	assert.InDelta(t, 75, Confidence(0.25), 1e-9)
	assert.InDelta(t, 0, Confidence(1.5), 1e-9)
}

func TestRecognize_NeverAcceptsBelowFloor(t *testing.T) {
	roster := &countingRoster{students: []database.Student{{Roll: "R1", Name: "Ada", Embedding: []float32{1, 0}}}}
	r := New(roster, time.Minute)

	for _, d := range []float64{0.0, 0.1, 0.2, 0.249, 0.26, 0.3, 0.5, 0.9} {
		m, err := r.Recognize(context.Background(), rotated(d), 0.7)
		require.NoError(t, err)
		conf := Confidence(d)
		if conf < DefaultAcceptanceFloor-1e-6 {
			assert.Nil(t, m, "distance %.3f confidence %.2f must be rejected", d, conf)
		} else if conf > DefaultAcceptanceFloor+1e-6 {
			require.NotNil(t, m, "distance %.3f should be accepted", d)
			assert.Equal(t, "R1", m.Roll)
			assert.GreaterOrEqual(t, m.Confidence, DefaultAcceptanceFloor)
		}
	}
}

func TestRecognize_ToleranceAlsoApplies(t *testing.T) {
	roster := &countingRoster{students: []database.Student{{Roll: "R1", Embedding: []float32{1, 0}}}}
	r := New(roster, time.Minute, WithAcceptanceFloor(10))

	m, err := r.Recognize(context.Background(), rotated(0.5), 0.4)
	require.NoError(t, err)
	assert.Nil(t, m, "distance above tolerance is rejected even over the floor")

	m, err = r.Recognize(context.Background(), rotated(0.3), 0.4)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestRecognize_PresetToleranceTighterThanFloor(t *testing.T) {
	roster := &countingRoster{students: []database.Student{{Roll: "R1", Embedding: []float32{1, 0}}}}
	r := New(roster, time.Minute)

	// Confidence 80 clears the floor; only the tolerance decides.
	m, err := r.Recognize(context.Background(), rotated(0.2), 0.25)
	require.NoError(t, err)
	assert.NotNil(t, m, "far preset accepts")

	m, err = r.Recognize(context.Background(), rotated(0.2), 0.18)
	require.NoError(t, err)
	assert.Nil(t, m, "near preset rejects")
}

func TestRecognize_PicksClosestAndIsDeterministic(t *testing.T) {
	roster := &countingRoster{students: []database.Student{
		{Roll: "R2", Name: "Bea", Embedding: rotated(0.05)},
		{Roll: "R1", Name: "Ada", Embedding: rotated(0.15)},
		{Roll: "R3", Name: "Cy", Embedding: []float32{0, 1}},
		{Roll: "R4", Name: "Unenrolled"},
	}}
	r := New(roster, time.Minute)
	query := []float32{1, 0}

	first, err := r.Recognize(context.Background(), query, 0.6)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "R2", first.Roll)

	for range 5 {
		again, err := r.Recognize(context.Background(), query, 0.6)
		require.NoError(t, err)
		assert.Equal(t, *first, *again)
	}
}

func TestSnapshot_TieBreaksByRoll(t *testing.T) {
	snap := NewSnapshot([]database.Student{
		{Roll: "B", Embedding: []float32{1, 0}},
		{Roll: "A", Embedding: []float32{2, 0}},
	})
	best, ok := snap.Best([]float32{1, 0})
	require.True(t, ok)
	assert.Equal(t, "A", best.Roll)
	assert.Equal(t, 2, snap.Len())
}

func TestRecognize_EmptyRoster(t *testing.T) {
	r := New(&countingRoster{}, time.Minute)
	m, err := r.Recognize(context.Background(), []float32{1, 0}, 0.6)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRecognize_RosterErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	r := New(&countingRoster{err: boom}, time.Minute)
	_, err := r.Recognize(context.Background(), []float32{1, 0}, 0.6)
	assert.ErrorIs(t, err, boom)
}

func TestSnapshotCachedUntilInvalidated(t *testing.T) {
	roster := &countingRoster{students: []database.Student{{Roll: "R1", Embedding: []float32{1, 0}}}}
	r := New(roster, time.Minute)
	ctx := context.Background()

	for range 3 {
		_, err := r.Recognize(ctx, []float32{1, 0}, 0.6)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, roster.calls)

	r.Invalidate()
	_, err := r.Recognize(ctx, []float32{1, 0}, 0.6)
	require.NoError(t, err)
	assert.Equal(t, 2, roster.calls)
}

func TestRecognize_WithMemoryStore(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.CreateStudent(context.Background(), database.Student{Roll: "R9", Name: "Zed", Embedding: []float32{0.6, 0.8}}))

	r := New(store, time.Minute)
	m, err := r.Recognize(context.Background(), []float32{0.6, 0.8}, 0.4)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Zed", m.Name)
	assert.InDelta(t, 100, m.Confidence, 1e-4)
}
