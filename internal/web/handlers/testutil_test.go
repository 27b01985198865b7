package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/database/memory"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/report"
)

// testPresets is a fixed preset table with medium as the default
type testPresets struct{}

var presetTable = map[string]detect.Preset{
	"near":   {Name: "near", Primary: detect.Tier{Name: "primary", InputSize: 192, ScoreThreshold: 0.5}, Tolerance: 0.18},
	"medium": {Name: "medium", Primary: detect.Tier{Name: "primary", InputSize: 320, ScoreThreshold: 0.3}, Tolerance: 0.22},
	"far":    {Name: "far", Primary: detect.Tier{Name: "primary", InputSize: 416, ScoreThreshold: 0.2}, Tolerance: 0.25},
}

func (testPresets) Preset(name string) (detect.Preset, error) {
	if name == "" {
		name = "medium"
	}
	p, ok := presetTable[name]
	if !ok {
		return detect.Preset{}, detect.ErrUnknownPreset
	}
	return p, nil
}

func (testPresets) PresetNames() []string { return []string{"far", "medium", "near"} }

func (testPresets) DisplayFloor() float64 { return 0.3 }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCohort = database.Cohort{Specialization: "AI", Department: "CSE", Section: "A", Batch: "2024"}

// testStore seeds a memory store with two students of testCohort, one of
// another cohort and a staff member of testCohort.
func testStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	other := testCohort
	other.Section = "B"
	for _, st := range []database.Student{
		{Roll: "R1", Name: "Ravi", Cohort: testCohort, Embedding: []float32{1, 0}},
		{Roll: "R2", Name: "Priya", Cohort: testCohort, Embedding: []float32{0, 1}},
		{Roll: "R3", Name: "Arjun", Cohort: other, Embedding: []float32{1, 1}},
	} {
		if err := store.CreateStudent(ctx, st); err != nil {
			t.Fatalf("seed student: %v", err)
		}
	}
	store.AddStaff(database.Staff{Email: "teacher@school.edu", Name: "T", Cohort: testCohort})
	return store
}

// testReports wires a real ledger and aggregator over store.
func testReports(store *memory.Store) (*attendance.Ledger, *report.Aggregator) {
	ledger := attendance.NewLedger(store, store, quietLogger())
	return ledger, report.New(ledger, store, quietLogger())
}

// withStaff puts the seeded staff member into the request context.
func withStaff(r *http.Request) *http.Request {
	sc := &attendance.StaffContext{Email: "teacher@school.edu", Name: "T", Cohort: testCohort}
	return r.WithContext(attendance.WithStaff(r.Context(), sc))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// fixedNow returns a clock stuck at t.
func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
