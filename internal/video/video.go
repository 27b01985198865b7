// Package video reads frames from RTSP streams and recorded video files
// through OpenCV.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/classroom-attendance/internal/media"
)

// DefaultFrameInterval is the spacing of frames taken from a video.
const DefaultFrameInterval = time.Second

var (
	ErrNotOpened  = errors.New("video capture is not opened")
	ErrEmptyFrame = errors.New("empty frame captured")
	ErrNoURL      = errors.New("stream URL is empty")
)

// encodeJPEG copies the encoded frame out of OpenCV memory.
func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

// RTSPSource serves the newest frame of a network stream. The stream is
// opened on first use and reopened after a failed read.
type RTSPSource struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	img     gocv.Mat
}

// NewRTSPSource creates a source for url without connecting.
func NewRTSPSource(url string, logger *slog.Logger) *RTSPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTSPSource{url: url, logger: logger.With("component", "rtsp"), img: gocv.NewMat()}
}

func (s *RTSPSource) open() error {
	if s.url == "" {
		return ErrNoURL
	}
	capture, err := gocv.OpenVideoCapture(s.url)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return ErrNotOpened
	}
	// Keep only the newest frame so ticks do not read stale buffered ones.
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	s.capture = capture
	s.logger.Info("stream opened")
	return nil
}

func (s *RTSPSource) closeCapture() {
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
}

// Frame reads one frame and returns it as JPEG.
func (s *RTSPSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		if err := s.open(); err != nil {
			return nil, err
		}
	}
	if !s.capture.Read(&s.img) {
		s.closeCapture()
		return nil, errors.New("frame read failed")
	}
	if s.img.Empty() {
		return nil, ErrEmptyFrame
	}
	return encodeJPEG(s.img)
}

// Close releases the stream.
func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCapture()
	return s.img.Close()
}

// Extractor takes one frame every Interval from a video file, starting at
// the first frame.
type Extractor struct {
	Interval time.Duration
}

// NewExtractor creates an extractor; a non-positive interval means one second.
func NewExtractor(interval time.Duration) *Extractor {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Extractor{Interval: interval}
}

// Duration of the video from its frame count and rate; zero when unknown.
func duration(capture *gocv.VideoCapture) time.Duration {
	fps := capture.Get(gocv.VideoCaptureFPS)
	count := capture.Get(gocv.VideoCaptureFrameCount)
	if fps <= 0 || count <= 0 {
		return 0
	}
	return time.Duration(count / fps * float64(time.Second))
}

// Extract implements media.FrameExtractor.
func (e *Extractor) Extract(ctx context.Context, path string, fn func(media.Frame) error) error {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer capture.Close()
	if !capture.IsOpened() {
		return ErrNotOpened
	}

	img := gocv.NewMat()
	defer img.Close()

	length := duration(capture)
	total := 0
	if length > 0 {
		total = int((length-1)/e.Interval) + 1
	}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset := time.Duration(i) * e.Interval
		if length > 0 && offset >= length {
			return nil
		}
		capture.Set(gocv.VideoCapturePosMsec, float64(offset.Milliseconds()))
		if !capture.Read(&img) || img.Empty() {
			if i == 0 {
				return ErrEmptyFrame
			}
			// End of stream when the length is unknown or overstated.
			return nil
		}
		data, err := encodeJPEG(img)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i+1, err)
		}
		if err := fn(media.Frame{Index: i, Offset: offset, Total: total, Data: data}); err != nil {
			return err
		}
	}
}
