// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Recognition constants
const (
	// HistorySize is the number of recent recognitions kept for status display
	HistorySize = 10

	// DefaultScanInterval is the RTSP scan interval when none is configured
	DefaultScanInterval = 2 * time.Second
)

// Processing constants
const (
	// MediaJobRetention is how long finished media jobs stay queryable
	MediaJobRetention = time.Hour
)
