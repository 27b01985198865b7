package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/classroom-attendance/internal/constants"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/media"
)

// MediaProcessor recognizes students in uploaded photos and videos.
type MediaProcessor interface {
	ProcessImage(ctx context.Context, data []byte, at time.Time, preset detect.Preset) (*media.BatchResult, error)
	ProcessVideo(ctx context.Context, frames media.FrameExtractor, path string, at time.Time, preset detect.Preset, onFrame func(media.Progress)) (*media.BatchResult, error)
}

// MediaHandler handles photo and video uploads
type MediaHandler struct {
	processor  MediaProcessor
	extractor  media.FrameExtractor
	presets    PresetResolver
	jobManager *JobManager
	now        func() time.Time
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(p MediaProcessor, extractor media.FrameExtractor, presets PresetResolver, jm *JobManager) *MediaHandler {
	return &MediaHandler{
		processor:  p,
		extractor:  extractor,
		presets:    presets,
		jobManager: jm,
		now:        time.Now,
	}
}

// isVideo sniffs the upload and falls back to the file extension.
func isVideo(header *multipart.FileHeader, head []byte) bool {
	ct := http.DetectContentType(head)
	if strings.HasPrefix(ct, "video/") {
		return true
	}
	if strings.HasPrefix(ct, "image/") {
		return false
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".mp4", ".avi", ".mov", ".mkv", ".webm":
		return true
	}
	return false
}

// saveTemp copies an upload into a temporary file and returns its path.
func saveTemp(file multipart.File, name string) (string, error) {
	out, err := os.CreateTemp("", "attendance-*"+filepath.Ext(filepath.Base(name)))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	return out.Name(), nil
}

// Upload processes a photo synchronously or starts a background job for a video
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	preset, err := h.presets.Preset(r.FormValue("preset"))
	if err != nil {
		respondErr(w, err)
		return
	}
	at, err := timestampParam(r.FormValue("timestamp"), h.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	if !isVideo(header, head) {
		data, err := io.ReadAll(file)
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		res, err := h.processor.ProcessImage(r.Context(), data, at, preset)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}

	path, err := saveTemp(file, header.Filename)
	if err != nil {
		respondErr(w, err)
		return
	}
	job := h.jobManager.CreateJob(filepath.Base(header.Filename), preset.Name, at)
	go h.runMediaJob(job, path, preset)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   job.ID,
		"filename": job.Filename,
		"status":   string(JobStatusPending),
	})
}

// Status returns the status of a media job
func (h *MediaHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams job events via SSE
func (h *MediaHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*MediaJob).Snapshot()
		},
	)
}

// Cancel cancels a media job
func (h *MediaHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runMediaJob processes the video in the background and removes it afterwards
func (h *MediaHandler) runMediaJob(job *MediaJob, path string, preset detect.Preset) {
	defer os.Remove(path)

	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)
	defer cancel()

	job.mu.Lock()
	if job.Status == JobStatusCancelled {
		// Cancelled before the job got going.
		now := time.Now()
		job.CompletedAt = &now
		job.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Media job started"})

	result, err := h.processor.ProcessVideo(ctx, h.extractor, path, job.Timestamp, preset, job.progress)
	if err != nil {
		if ctx.Err() != nil {
			now := time.Now()
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.CompletedAt = &now
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		h.failJob(job, err.Error())
		return
	}

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Progress = 100
	job.Result = result
	job.mu.Unlock()

	slog.Info("media job completed", "job", job.ID, "frames", result.Frames, "marked", len(result.Marked))
	job.SendEvent(JobEvent{Type: "completed", Data: result})
}

func (h *MediaHandler) failJob(job *MediaJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}
