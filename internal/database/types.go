package database

import (
	"strings"
	"time"
)

// Cohort scopes both students and staff. Two cohorts match only when all four
// attributes are equal.
type Cohort struct {
	Specialization string `json:"specialization"`
	Department     string `json:"department"`
	Section        string `json:"section"`
	Batch          string `json:"batch"` // admission year, compared as text
}

// Matches reports exact equality on every attribute.
func (c Cohort) Matches(other Cohort) bool {
	return c.Specialization == other.Specialization &&
		c.Department == other.Department &&
		c.Section == other.Section &&
		strings.TrimSpace(c.Batch) == strings.TrimSpace(other.Batch)
}

// IsZero reports whether no cohort attribute is set.
func (c Cohort) IsZero() bool {
	return c == Cohort{}
}

// Student represents an enrolled student
type Student struct {
	Roll      string
	Name      string
	Cohort    Cohort
	Phone     string
	Embedding []float32 // reference face embedding, nil when not enrolled
	Photo     []byte    // source image the embedding was computed from (optional)
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Staff represents a staff member whose view is limited to one cohort
type Staff struct {
	Email  string
	Name   string
	Cohort Cohort
}

// Status of an attendance record
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Source identifies which pipeline produced a record
type Source string

const (
	SourceCamera Source = "camera"
	SourceRTSP   Source = "rtsp"
	SourceMedia  Source = "media"
	SourceManual Source = "manual"
)

// AttendanceRecord is one presence decision per (roll, date, slot).
// Date is formatted as 2006-01-02 and Slot is one of the fixed schedule labels.
type AttendanceRecord struct {
	ID         int64
	Roll       string
	Date       string
	Slot       string
	Status     Status
	Confidence float64 // recognition confidence in percent, 0 for manual marks
	Source     Source
	MarkedAt   time.Time
}
