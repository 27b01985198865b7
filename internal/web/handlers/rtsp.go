package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kozaktomas/classroom-attendance/internal/capture"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/pipeline"
)

// Scheduler is the RTSP worker control surface.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	SetPreset(p detect.Preset)
	Status() capture.Status
	CheckNow(ctx context.Context) (*pipeline.Result, error)
}

// RTSPHandler handles RTSP worker endpoints
type RTSPHandler struct {
	scheduler Scheduler
	presets   PresetResolver
	base      context.Context
}

// NewRTSPHandler creates a new RTSP handler. The worker started through it
// runs until Stop or until base is cancelled. A nil scheduler means no stream
// is configured.
func NewRTSPHandler(base context.Context, s Scheduler, presets PresetResolver) *RTSPHandler {
	return &RTSPHandler{scheduler: s, presets: presets, base: base}
}

func (h *RTSPHandler) available(w http.ResponseWriter) bool {
	if h.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "RTSP_URL is not configured")
		return false
	}
	return true
}

// StartRequest optionally switches the distance preset before starting.
type StartRequest struct {
	Preset string `json:"preset"`
}

// Start starts the worker
func (h *RTSPHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Preset != "" {
		p, err := h.presets.Preset(req.Preset)
		if err != nil {
			respondErr(w, err)
			return
		}
		h.scheduler.SetPreset(p)
	}

	if err := h.scheduler.Start(h.base); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// Stop stops the worker; in-flight results are discarded
func (h *RTSPHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	h.scheduler.Stop()
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// Status returns the worker status
func (h *RTSPHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// Check runs one recognition cycle on the current frame
func (h *RTSPHandler) Check(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	res, err := h.scheduler.CheckNow(r.Context())
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			// Stream and embedding server failures are worth showing to the operator.
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
