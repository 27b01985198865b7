package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/capture"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/report"
	"github.com/kozaktomas/classroom-attendance/internal/roster"
)

func TestRespondJSON_SetsContentTypeAndStatus(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusCreated, map[string]string{"status": "ok"})

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &roster.ValidationError{Fields: map[string]string{"phone": "phone"}}, http.StatusBadRequest},
		{"unknown slot", fmt.Errorf("query: %w", attendance.ErrUnknownSlot), http.StatusBadRequest},
		{"invalid date", attendance.ErrInvalidDate, http.StatusBadRequest},
		{"outside schedule", attendance.ErrOutsideSchedule, http.StatusBadRequest},
		{"unknown preset", detect.ErrUnknownPreset, http.StatusBadRequest},
		{"duplicate", roster.ErrDuplicate, http.StatusBadRequest},
		{"no face", roster.ErrNoFace, http.StatusBadRequest},
		{"no staff", report.ErrNoStaff, http.StatusUnauthorized},
		{"not found", fmt.Errorf("student R1: %w", database.ErrNotFound), http.StatusNotFound},
		{"already running", capture.ErrAlreadyRunning, http.StatusConflict},
		{"busy", capture.ErrBusy, http.StatusConflict},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRespondErr_HidesInternalErrors(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondErr(recorder, errors.New("pq: password authentication failed"))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "internal error")
}

func TestRespondErr_ListsInvalidFields(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondErr(recorder, &roster.ValidationError{Fields: map[string]string{"phone": "phone"}})

	assertStatusCode(t, recorder, http.StatusBadRequest)
	var result struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Fields["phone"] != "phone" {
		t.Errorf("expected phone field error, got %v", result.Fields)
	}
}

func TestDateParam(t *testing.T) {
	now := time.Date(2024, 3, 11, 10, 30, 0, 0, time.Local)

	req := httptest.NewRequest("GET", "/attendance/day", nil)
	date, err := dateParam(req, now)
	if err != nil || date != "2024-03-11" {
		t.Errorf("expected today's date, got %q (%v)", date, err)
	}

	req = httptest.NewRequest("GET", "/attendance/day?date=2024-02-29", nil)
	if date, err = dateParam(req, now); err != nil || date != "2024-02-29" {
		t.Errorf("expected given date, got %q (%v)", date, err)
	}

	req = httptest.NewRequest("GET", "/attendance/day?date=11.03.2024", nil)
	if _, err = dateParam(req, now); !errors.Is(err, attendance.ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestSlotParam(t *testing.T) {
	req := httptest.NewRequest("GET", "/attendance/slot?slot=13:35", nil)
	if slot, err := slotParam(req); err != nil || slot != "13:35" {
		t.Errorf("expected 13:35, got %q (%v)", slot, err)
	}

	req = httptest.NewRequest("GET", "/attendance/slot?slot=13:00", nil)
	if _, err := slotParam(req); !errors.Is(err, attendance.ErrUnknownSlot) {
		t.Errorf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestTimestampParam(t *testing.T) {
	now := time.Now()
	if at, err := timestampParam("", now); err != nil || !at.Equal(now) {
		t.Errorf("expected now for empty value, got %v (%v)", at, err)
	}
	at, err := timestampParam("2024-03-11T09:15:00Z", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !at.Equal(time.Date(2024, 3, 11, 9, 15, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", at)
	}
	if _, err := timestampParam("yesterday", now); err == nil {
		t.Error("expected error for non RFC 3339 value")
	}
}

func TestHealthHandler(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("ok", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		NewHealthHandler(map[string]Pinger{"database": healthy}).Check(recorder, httptest.NewRequest("GET", "/health", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		var result map[string]string
		parseJSONResponse(t, recorder, &result)
		if result["status"] != "ok" || result["database"] != "ok" {
			t.Errorf("unexpected health %v", result)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		NewHealthHandler(map[string]Pinger{"database": healthy, "embedding": down}).Check(recorder, httptest.NewRequest("GET", "/health", nil))

		assertStatusCode(t, recorder, http.StatusServiceUnavailable)
		var result map[string]string
		if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if result["status"] != "degraded" || result["embedding"] != "connection refused" {
			t.Errorf("unexpected health %v", result)
		}
	})
}
