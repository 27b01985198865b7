package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/media"
	"github.com/kozaktomas/classroom-attendance/internal/pipeline"
	"github.com/kozaktomas/classroom-attendance/internal/recognize"
)

// fakeMedia records calls and lets video jobs block until released.
type fakeMedia struct {
	mu        sync.Mutex
	imageData []byte
	preset    string
	at        time.Time
	path      string

	videoErr error
	block    bool
	release  chan struct{}
}

func (f *fakeMedia) ProcessImage(_ context.Context, data []byte, at time.Time, p detect.Preset) (*media.BatchResult, error) {
	f.mu.Lock()
	f.imageData, f.at, f.preset = data, at, p.Name
	f.mu.Unlock()
	return &media.BatchResult{
		Frames:  1,
		Matches: []recognize.Match{{Roll: "R1", Confidence: 90}},
		Marked:  []pipeline.Marked{{Match: recognize.Match{Roll: "R1"}, Date: "2024-03-11", Slot: "09:00", Created: true}},
	}, nil
}

func (f *fakeMedia) ProcessVideo(ctx context.Context, _ media.FrameExtractor, path string, at time.Time, p detect.Preset, onFrame func(media.Progress)) (*media.BatchResult, error) {
	f.mu.Lock()
	f.path, f.at, f.preset = path, at, p.Name
	f.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	onFrame(media.Progress{Frame: 1, Total: 2, Recognized: 1})
	if f.block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.release:
		}
	}
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	onFrame(media.Progress{Frame: 2, Total: 2})
	return &media.BatchResult{Frames: 2, Matches: []recognize.Match{{Roll: "R2"}}}, nil
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if content != nil {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(content)
	}
	mw.Close()
	req := httptest.NewRequest("POST", "/api/v1/attendance/media", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newMediaHandler(proc *fakeMedia) (*MediaHandler, *JobManager) {
	jm := NewJobManager()
	h := NewMediaHandler(proc, nil, testPresets{}, jm)
	h.now = fixedNow(monday)
	return h, jm
}

// waitForStatus polls the job until it reaches want.
func waitForStatus(t *testing.T, job *MediaJob, want JobStatus) *MediaJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := job.Snapshot()
		if snap.Status == want && snap.CompletedAt != nil {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job did not reach %s, status %s", want, job.GetStatus())
	return nil
}

func TestMediaUpload_Image(t *testing.T) {
	proc := &fakeMedia{}
	h, jm := newMediaHandler(proc)

	recorder := httptest.NewRecorder()
	h.Upload(recorder, uploadRequest(t, "class.png", pngPhoto(t), map[string]string{
		"preset":    "far",
		"timestamp": "2024-03-11T10:15:00Z",
	}))

	assertStatusCode(t, recorder, http.StatusOK)
	var res media.BatchResult
	parseJSONResponse(t, recorder, &res)
	if res.Frames != 1 || len(res.Marked) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if proc.preset != "far" || !proc.at.Equal(time.Date(2024, 3, 11, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("unexpected call preset=%s at=%v", proc.preset, proc.at)
	}
	if len(jm.ListJobs()) != 0 {
		t.Error("photos must not create jobs")
	}
}

func TestMediaUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		content    []byte
		fields     map[string]string
		wantStatus int
		wantError  string
	}{
		{"missing file", nil, nil, http.StatusBadRequest, "file is required"},
		{"unknown preset", []byte("x"), map[string]string{"preset": "orbit"}, http.StatusBadRequest, detect.ErrUnknownPreset.Error()},
		{"bad timestamp", []byte("x"), map[string]string{"timestamp": "yesterday"}, http.StatusBadRequest, "timestamp must be RFC 3339"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newMediaHandler(&fakeMedia{})
			recorder := httptest.NewRecorder()
			h.Upload(recorder, uploadRequest(t, "a.png", tt.content, tt.fields))
			assertStatusCode(t, recorder, tt.wantStatus)
			assertJSONError(t, recorder, tt.wantError)
		})
	}
}

func TestMediaUpload_VideoJob(t *testing.T) {
	proc := &fakeMedia{}
	h, jm := newMediaHandler(proc)

	recorder := httptest.NewRecorder()
	h.Upload(recorder, uploadRequest(t, "lecture.mp4", []byte("not really a video"), nil))

	assertStatusCode(t, recorder, http.StatusAccepted)
	var resp map[string]string
	parseJSONResponse(t, recorder, &resp)
	if resp["filename"] != "lecture.mp4" || resp["status"] != string(JobStatusPending) {
		t.Errorf("unexpected response %v", resp)
	}
	job := jm.GetJob(resp["job_id"])
	if job == nil {
		t.Fatal("job not registered")
	}

	snap := waitForStatus(t, job, JobStatusCompleted)
	if snap.ProcessedFrames != 2 || snap.Progress != 100 || snap.Result == nil || snap.Result.Frames != 2 {
		t.Errorf("unexpected job %+v", snap)
	}
	if snap.Preset != "medium" || !snap.Timestamp.Equal(monday) {
		t.Errorf("unexpected preset %s or timestamp %v", snap.Preset, snap.Timestamp)
	}
	removed := false
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(5 * time.Millisecond) {
		if _, err := os.Stat(proc.path); os.IsNotExist(err) {
			removed = true
			break
		}
	}
	if !removed {
		t.Errorf("temp file %s was not removed", proc.path)
	}

	statusRec := httptest.NewRecorder()
	h.Status(statusRec, requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{"jobId": job.ID}))
	assertStatusCode(t, statusRec, http.StatusOK)
	if !strings.Contains(statusRec.Body.String(), `"status":"completed"`) {
		t.Errorf("unexpected status body %s", statusRec.Body.String())
	}
}

func TestMediaUpload_VideoFailure(t *testing.T) {
	h, jm := newMediaHandler(&fakeMedia{videoErr: media.ErrNoFrames})

	recorder := httptest.NewRecorder()
	h.Upload(recorder, uploadRequest(t, "empty.mov", []byte("x"), nil))
	assertStatusCode(t, recorder, http.StatusAccepted)

	jobs := jm.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	snap := waitForStatus(t, jobs[0], JobStatusFailed)
	if snap.Error != media.ErrNoFrames.Error() {
		t.Errorf("unexpected job error %q", snap.Error)
	}
}

func TestMediaCancel(t *testing.T) {
	proc := &fakeMedia{block: true, release: make(chan struct{})}
	h, jm := newMediaHandler(proc)

	recorder := httptest.NewRecorder()
	h.Upload(recorder, uploadRequest(t, "long.mp4", []byte("x"), nil))
	assertStatusCode(t, recorder, http.StatusAccepted)
	job := jm.ListJobs()[0]

	// Wait for the first frame so the job is running.
	deadline := time.Now().Add(2 * time.Second)
	for job.Snapshot().ProcessedFrames == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancelRec := httptest.NewRecorder()
	h.Cancel(cancelRec, requestWithChiParams(httptest.NewRequest("DELETE", "/", nil), map[string]string{"jobId": job.ID}))
	assertStatusCode(t, cancelRec, http.StatusOK)

	snap := waitForStatus(t, job, JobStatusCancelled)
	if snap.Result != nil {
		t.Error("cancelled job must not carry a result")
	}
}

func TestMediaJob_NotFound(t *testing.T) {
	h, _ := newMediaHandler(&fakeMedia{})
	params := map[string]string{"jobId": "missing"}

	for name, fn := range map[string]http.HandlerFunc{"status": h.Status, "cancel": h.Cancel, "events": h.Events} {
		t.Run(name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			fn(recorder, requestWithChiParams(httptest.NewRequest("GET", "/", nil), params))
			assertStatusCode(t, recorder, http.StatusNotFound)
			assertJSONError(t, recorder, "job not found")
		})
	}
}

func TestMediaEvents_SendsInitialStatus(t *testing.T) {
	h, jm := newMediaHandler(&fakeMedia{})
	job := jm.CreateJob("clip.mp4", "near", monday)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := requestWithChiParams(httptest.NewRequest("GET", "/", nil).WithContext(ctx), map[string]string{"jobId": job.ID})
	recorder := httptest.NewRecorder()
	h.Events(recorder, req)

	assertContentType(t, recorder, "text/event-stream")
	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\n") || !strings.Contains(body, job.ID) {
		t.Errorf("unexpected stream %q", body)
	}
}

func TestJobManager_PrunesFinishedJobs(t *testing.T) {
	jm := NewJobManager()
	old := jm.CreateJob("a.mp4", "near", monday)
	done := time.Now().Add(-2 * time.Hour)
	old.mu.Lock()
	old.Status = JobStatusCompleted
	old.CompletedAt = &done
	old.mu.Unlock()
	running := jm.CreateJob("b.mp4", "near", monday)

	jm.CreateJob("c.mp4", "near", monday)

	if jm.GetJob(old.ID) != nil {
		t.Error("expected finished job to be pruned")
	}
	if jm.GetJob(running.ID) == nil {
		t.Error("unfinished job must be kept")
	}
}

func TestJobManager_CancelRunningSkipsFinished(t *testing.T) {
	jm := NewJobManager()
	done := jm.CreateJob("a.mp4", "near", monday)
	done.mu.Lock()
	done.Status = JobStatusCompleted
	done.mu.Unlock()
	pending := jm.CreateJob("b.mp4", "near", monday)

	jm.CancelRunning()

	if done.GetStatus() != JobStatusCompleted {
		t.Errorf("finished job changed to %s", done.GetStatus())
	}
	if pending.GetStatus() != JobStatusCancelled {
		t.Errorf("expected pending job to be cancelled, got %s", pending.GetStatus())
	}
}

func TestIsVideo(t *testing.T) {
	tests := []struct {
		name string
		file string
		head []byte
		want bool
	}{
		{"png bytes", "x.mp4", []byte("\x89PNG\r\n\x1a\n"), false},
		{"mp4 extension", "clip.MP4", []byte("plain"), true},
		{"webm bytes", "upload", []byte("\x1a\x45\xdf\xa3"), true},
		{"unknown", "notes.txt", []byte("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isVideo(&multipart.FileHeader{Filename: tt.file}, tt.head)
			if got != tt.want {
				t.Errorf("isVideo(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}
