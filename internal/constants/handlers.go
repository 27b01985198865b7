// Package constants provides shared constants used across the codebase.
package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum media upload size in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxPhotoUploadSize is the maximum enrolment photo size in bytes (10MB)
	MaxPhotoUploadSize = 10 << 20

	// MaxFrameSize is the maximum live camera frame size in bytes (10MB)
	MaxFrameSize = 10 << 20
)
