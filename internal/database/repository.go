package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique business key is already taken.
var ErrConflict = errors.New("already exists")

// StudentReader provides read-only access to the roster
type StudentReader interface {
	// ListStudents returns every enrolled student ordered by roll, including reference embeddings
	ListStudents(ctx context.Context) ([]Student, error)
	// GetStudent retrieves a student by roll, returns ErrNotFound if missing
	GetStudent(ctx context.Context, roll string) (*Student, error)
}

// StudentWriter provides write access to the roster
type StudentWriter interface {
	StudentReader

	// CreateStudent inserts a student, returns ErrConflict when the roll exists
	CreateStudent(ctx context.Context, s Student) error
	// UpdateStudent replaces the profile of the student identified by roll.
	// The embedding and photo are kept when the update carries none.
	UpdateStudent(ctx context.Context, roll string, s Student) error
	// DeleteStudent removes a student, returns ErrNotFound if missing
	DeleteStudent(ctx context.Context, roll string) error
}

// StaffReader resolves staff identities
type StaffReader interface {
	// GetStaff retrieves a staff member by email, returns ErrNotFound if missing
	GetStaff(ctx context.Context, email string) (*Staff, error)
}

// StaffWriter manages staff identities
type StaffWriter interface {
	StaffReader

	// SaveStaff inserts or replaces the staff member keyed by lowercased email
	SaveStaff(ctx context.Context, s Staff) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// ListRecords returns all records for a date and slot ordered by roll
	ListRecords(ctx context.Context, date, slot string) ([]AttendanceRecord, error)
	// HasRecords reports whether any record references roll
	HasRecords(ctx context.Context, roll string) (bool, error)
}

// AttendanceWriter provides write access to attendance records
type AttendanceWriter interface {
	AttendanceReader

	// InsertRecord stores the record unless one already exists for its
	// (roll, date, slot). Returns true when this call created it; otherwise rec
	// is overwritten with the stored record.
	InsertRecord(ctx context.Context, rec *AttendanceRecord) (bool, error)
	// DeleteSlot removes every record of a date and slot and returns the count.
	DeleteSlot(ctx context.Context, date, slot string) (int64, error)
}

// Pinger reports backend health
type Pinger interface {
	Ping(ctx context.Context) error
}
