package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/capture"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/media"
	"github.com/kozaktomas/classroom-attendance/internal/report"
	"github.com/kozaktomas/classroom-attendance/internal/roster"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *roster.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, attendance.ErrUnknownSlot),
		errors.Is(err, attendance.ErrInvalidDate),
		errors.Is(err, attendance.ErrOutsideSchedule),
		errors.Is(err, detect.ErrUnknownPreset),
		errors.Is(err, detect.ErrNoFrame),
		errors.Is(err, media.ErrNoFrames),
		errors.Is(err, roster.ErrDuplicate),
		errors.Is(err, roster.ErrNoFace):
		return http.StatusBadRequest
	case errors.Is(err, report.ErrNoStaff):
		return http.StatusUnauthorized
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrAlreadyRunning), errors.Is(err, capture.ErrBusy),
		errors.Is(err, roster.ErrRollInUse):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondErr sends err with the status it maps to. Server errors are not
// echoed to the client.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", sanitizeForLog(err.Error()))
		respondError(w, status, "internal error")
		return
	}
	var ve *roster.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, status, map[string]any{"error": "validation failed", "fields": ve.Fields})
		return
	}
	respondError(w, status, err.Error())
}

// dateParam returns the date query parameter, defaulting to today.
func dateParam(r *http.Request, now time.Time) (string, error) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return attendance.FormatDate(now), nil
	}
	if _, err := attendance.ParseDate(date); err != nil {
		return "", err
	}
	return date, nil
}

// slotParam returns the validated slot query parameter.
func slotParam(r *http.Request) (string, error) {
	slot := r.URL.Query().Get("slot")
	if err := attendance.ValidateSlot(slot); err != nil {
		return "", err
	}
	return slot, nil
}

// timestampParam reads an RFC 3339 timestamp from a form or query value.
// Empty means now.
func timestampParam(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New("timestamp must be RFC 3339")
	}
	return at.In(time.Local), nil
}

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports the state of the database and the embedding server.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a health handler over named checks.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result["status"] = "degraded"
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	respondJSON(w, status, result)
}
