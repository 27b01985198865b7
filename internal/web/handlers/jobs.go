package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/classroom-attendance/internal/constants"
	"github.com/kozaktomas/classroom-attendance/internal/media"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// MediaJob is one video being processed in the background.
type MediaJob struct {
	EventBroadcaster

	ID              string             `json:"id"`
	Filename        string             `json:"filename"`
	Preset          string             `json:"preset"`
	Timestamp       time.Time          `json:"timestamp"`
	Status          JobStatus          `json:"status"`
	Progress        int                `json:"progress"`
	TotalFrames     int                `json:"total_frames"`
	ProcessedFrames int                `json:"processed_frames"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Result          *media.BatchResult `json:"result,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *MediaJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy safe to encode while the job runs.
func (j *MediaJob) Snapshot() *MediaJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &MediaJob{
		ID:              j.ID,
		Filename:        j.Filename,
		Preset:          j.Preset,
		Timestamp:       j.Timestamp,
		Status:          j.Status,
		Progress:        j.Progress,
		TotalFrames:     j.TotalFrames,
		ProcessedFrames: j.ProcessedFrames,
		Error:           j.Error,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		Result:          j.Result,
	}
}

// Cancel cancels the media job.
func (j *MediaJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// progress records one processed frame.
func (j *MediaJob) progress(p media.Progress) {
	j.mu.Lock()
	j.ProcessedFrames = p.Frame
	j.TotalFrames = max(p.Total, p.Frame)
	j.Progress = p.Frame * 100 / j.TotalFrames
	j.mu.Unlock()

	data := map[string]any{
		"frame":      p.Frame,
		"total":      p.Total,
		"recognized": p.Recognized,
	}
	if p.Err != nil {
		data["error"] = p.Err.Error()
	}
	j.SendEvent(JobEvent{Type: "progress", Data: data})
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// setCancel installs the function that stops the job.
func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*MediaJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*MediaJob),
	}
}

// CreateJob registers a pending media job under a fresh ID.
func (m *JobManager) CreateJob(filename, preset string, at time.Time) *MediaJob {
	job := &MediaJob{
		ID:        uuid.New().String(),
		Filename:  filename,
		Preset:    preset,
		Timestamp: at,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.pruneLocked(job.StartedAt)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job
}

// pruneLocked drops jobs that finished more than MediaJobRetention ago.
func (m *JobManager) pruneLocked(now time.Time) {
	for id, job := range m.jobs {
		job.mu.RLock()
		done := job.CompletedAt
		job.mu.RUnlock()
		if done != nil && now.Sub(*done) > constants.MediaJobRetention {
			delete(m.jobs, id)
		}
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *MediaJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*MediaJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*MediaJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// CancelRunning cancels every job that has not finished yet.
func (m *JobManager) CancelRunning() {
	for _, job := range m.ListJobs() {
		if !isJobTerminal(job.GetStatus()) {
			job.Cancel()
		}
	}
}
