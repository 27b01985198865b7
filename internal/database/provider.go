package database

import (
	"context"
	"errors"
	"sync"
)

// Backend bundles the repositories of one storage implementation.
type Backend struct {
	Name       string
	Students   func() StudentWriter
	Staff      func() StaffWriter
	Attendance func() AttendanceWriter
	Health     Pinger // optional
}

var (
	backend   *Backend
	backendMu sync.RWMutex
)

// errNotInitialized is returned by the getters before RegisterBackend is called.
var errNotInitialized = errors.New("storage backend not initialized: DATABASE_URL is required")

// RegisterBackend registers the active repository constructors.
// This is called by the postgres and memory packages to avoid import cycles.
func RegisterBackend(b *Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = b
}

// ResetBackend clears the registration. Intended for tests.
func ResetBackend() {
	RegisterBackend(nil)
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend != nil
}

// BackendName returns the registered backend name, or empty string.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backend == nil {
		return ""
	}
	return backend.Name
}

func current() (*Backend, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backend == nil {
		return nil, errNotInitialized
	}
	return backend, nil
}

// GetStudentWriter returns the roster repository of the active backend
func GetStudentWriter() (StudentWriter, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Students == nil {
		return nil, errors.New("student repository not registered")
	}
	return b.Students(), nil
}

// GetStaffReader returns the staff repository of the active backend
func GetStaffReader() (StaffReader, error) {
	return GetStaffWriter()
}

// GetStaffWriter returns the staff repository of the active backend
func GetStaffWriter() (StaffWriter, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Staff == nil {
		return nil, errors.New("staff repository not registered")
	}
	return b.Staff(), nil
}

// GetAttendanceWriter returns the attendance repository of the active backend
func GetAttendanceWriter() (AttendanceWriter, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Attendance == nil {
		return nil, errors.New("attendance repository not registered")
	}
	return b.Attendance(), nil
}

// Ping checks the active backend. Backends without a health hook are always healthy.
func Ping(ctx context.Context) error {
	b, err := current()
	if err != nil {
		return err
	}
	if b.Health == nil {
		return nil
	}
	return b.Health.Ping(ctx)
}
