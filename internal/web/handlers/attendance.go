package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/constants"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/pipeline"
	"github.com/kozaktomas/classroom-attendance/internal/recognize"
	"github.com/kozaktomas/classroom-attendance/internal/report"
)

// FrameProcessor runs one detect, recognize and mark cycle.
type FrameProcessor interface {
	Process(ctx context.Context, frame []byte, preset detect.Preset, at time.Time, source database.Source) (*pipeline.Result, []pipeline.Marked, error)
}

// Reports builds staff-scoped attendance views.
type Reports interface {
	SlotView(ctx context.Context, staff *attendance.StaffContext, date, slot string) (*attendance.SlotAttendance, error)
	DayView(ctx context.Context, staff *attendance.StaffContext, date string) (*report.DayView, error)
	Export(ctx context.Context, staff *attendance.StaffContext, anchor time.Time, r report.Range) (*report.Export, error)
}

// SlotClearer deletes the records of one slot.
type SlotClearer interface {
	ClearSlot(ctx context.Context, date, slot string) (int64, error)
}

// SummaryNotifier sends present and absent messages for a slot.
type SummaryNotifier interface {
	Summary(ctx context.Context, date, slot string, present, absent []database.Student) (int, error)
}

// AttendanceHandler handles recognition and attendance endpoints
type AttendanceHandler struct {
	pipeline FrameProcessor
	presets  PresetResolver
	reports  Reports
	ledger   SlotClearer
	roster   database.StudentReader
	notifier SummaryNotifier
	now      func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(p FrameProcessor, presets PresetResolver, reports Reports, ledger SlotClearer, roster database.StudentReader, notifier SummaryNotifier) *AttendanceHandler {
	return &AttendanceHandler{
		pipeline: p,
		presets:  presets,
		reports:  reports,
		ledger:   ledger,
		roster:   roster,
		notifier: notifier,
		now:      time.Now,
	}
}

// FrameResponse is the outcome of one live camera frame.
type FrameResponse struct {
	Tier         string             `json:"tier"`
	Faces        []detect.Detection `json:"faces"`
	Matches      []recognize.Match  `json:"matches"`
	Unrecognized int                `json:"unrecognized"`
	Marked       []pipeline.Marked  `json:"marked"`
	SubmitError  string             `json:"submit_error,omitempty"`
}

// readFrame returns the image from a multipart "frame" field or the raw body.
func readFrame(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(constants.MaxFrameSize); err != nil {
			return nil, errors.New("failed to parse multipart form")
		}
		file, _, err := r.FormFile("frame")
		if err != nil {
			return nil, errors.New("frame is required")
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxFrameSize+1))
	if err != nil {
		return nil, errors.New("failed to read frame")
	}
	if len(data) > constants.MaxFrameSize {
		return nil, errors.New("frame too large")
	}
	return data, nil
}

// Frame recognizes faces in a camera snapshot and marks the matches present
func (h *AttendanceHandler) Frame(w http.ResponseWriter, r *http.Request) {
	preset, err := h.presets.Preset(r.URL.Query().Get("preset"))
	if err != nil {
		respondErr(w, err)
		return
	}
	frame, err := readFrame(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(frame) == 0 {
		respondError(w, http.StatusBadRequest, "frame is required")
		return
	}

	res, marked, err := h.pipeline.Process(r.Context(), frame, preset, h.now(), database.SourceCamera)
	if res == nil {
		respondErr(w, err)
		return
	}

	resp := FrameResponse{
		Tier:         res.Tier,
		Faces:        detect.Displayable(res.Detections, h.presets.DisplayFloor()),
		Matches:      res.Matches,
		Unrecognized: res.Unrecognized,
		Marked:       marked,
	}
	if resp.Faces == nil {
		resp.Faces = []detect.Detection{}
	}
	if resp.Matches == nil {
		resp.Matches = []recognize.Match{}
	}
	if resp.Marked == nil {
		resp.Marked = []pipeline.Marked{}
	}
	if err != nil {
		// Recognition stands even when marking failed.
		resp.SubmitError = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Slot returns present and absent rolls of the staff's cohort for one slot
func (h *AttendanceHandler) Slot(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, h.now())
	if err != nil {
		respondErr(w, err)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	view, err := h.reports.SlotView(r.Context(), attendance.StaffFrom(r.Context()), date, slot)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Day returns every slot of one date for the staff's cohort
func (h *AttendanceHandler) Day(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, h.now())
	if err != nil {
		respondErr(w, err)
		return
	}

	view, err := h.reports.DayView(r.Context(), attendance.StaffFrom(r.Context()), date)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Export streams a week or month of attendance as CSV
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, h.now())
	if err != nil {
		respondErr(w, err)
		return
	}
	rng, err := report.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	anchor, err := attendance.ParseDate(date)
	if err != nil {
		respondErr(w, err)
		return
	}

	export, err := h.reports.Export(r.Context(), attendance.StaffFrom(r.Context()), anchor, rng)
	if err != nil {
		respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename()))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w); err != nil {
		slog.Warn("export write failed", "file", export.Filename(), "error", err)
	}
}

// Notify sends present and absent messages for the staff's cohort in one slot
func (h *AttendanceHandler) Notify(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, h.now())
	if err != nil {
		respondErr(w, err)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	view, err := h.reports.SlotView(r.Context(), attendance.StaffFrom(r.Context()), date, slot)
	if err != nil {
		respondErr(w, err)
		return
	}
	students, err := h.roster.ListStudents(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	byRoll := make(map[string]database.Student, len(students))
	for _, st := range students {
		byRoll[st.Roll] = st
	}
	pick := func(rolls []string) []database.Student {
		out := make([]database.Student, 0, len(rolls))
		for _, roll := range rolls {
			out = append(out, byRoll[roll])
		}
		return out
	}

	sent, err := h.notifier.Summary(r.Context(), date, slot, pick(view.Present), pick(view.Absent))
	resp := map[string]any{
		"date":    date,
		"slot":    slot,
		"present": len(view.Present),
		"absent":  len(view.Absent),
		"sent":    sent,
	}
	if err != nil {
		resp["error"] = err.Error()
		respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ClearSlot deletes every record of one slot
func (h *AttendanceHandler) ClearSlot(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		respondError(w, http.StatusBadRequest, "date is required")
		return
	}
	slot := r.URL.Query().Get("slot")

	n, err := h.ledger.ClearSlot(r.Context(), date, slot)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"date": date, "slot": slot, "deleted": n})
}
