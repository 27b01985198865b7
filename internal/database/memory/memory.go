// Package memory provides in-memory implementations of the database interfaces.
// It backs `serve --memory` for local development and the service tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

type recordKey struct {
	roll, date, slot string
}

// Store holds students, staff and attendance records behind one lock.
type Store struct {
	mu       sync.RWMutex
	students map[string]database.Student
	staff    map[string]database.Staff
	records  map[recordKey]database.AttendanceRecord
	nextID   int64

	// Error injection
	ListStudentsError error
	GetStaffError     error
	ListRecordsError  error
	InsertRecordError error
	DeleteSlotError   error
	PingError         error

	// ListRecordsHook runs before ListRecords returns; tests use it to fail single cells.
	ListRecordsHook func(date, slot string) error
}

var (
	_ database.StudentWriter    = (*Store)(nil)
	_ database.StaffWriter      = (*Store)(nil)
	_ database.AttendanceWriter = (*Store)(nil)
	_ database.Pinger           = (*Store)(nil)
)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		students: make(map[string]database.Student),
		staff:    make(map[string]database.Staff),
		records:  make(map[recordKey]database.AttendanceRecord),
	}
}

// Register installs the store as the active backend.
func (s *Store) Register() {
	database.RegisterBackend(&database.Backend{
		Name:       "memory",
		Students:   func() database.StudentWriter { return s },
		Staff:      func() database.StaffWriter { return s },
		Attendance: func() database.AttendanceWriter { return s },
		Health:     s,
	})
}

// AddStaff adds or replaces a staff member.
func (s *Store) AddStaff(st database.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Email = strings.ToLower(strings.TrimSpace(st.Email))
	s.staff[st.Email] = st
}

// SaveStaff implements database.StaffWriter
func (s *Store) SaveStaff(ctx context.Context, st database.Staff) error {
	s.AddStaff(st)
	return nil
}

// ListStudents returns all students ordered by roll
func (s *Store) ListStudents(ctx context.Context) ([]database.Student, error) {
	if s.ListStudentsError != nil {
		return nil, s.ListStudentsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]database.Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b database.Student) int { return strings.Compare(a.Roll, b.Roll) })
	return out, nil
}

// GetStudent retrieves a student by roll
func (s *Store) GetStudent(ctx context.Context, roll string) (*database.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[roll]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", roll, database.ErrNotFound)
	}
	return &st, nil
}

// CreateStudent inserts a student
func (s *Store) CreateStudent(ctx context.Context, st database.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.Roll]; ok {
		return fmt.Errorf("student %s: %w", st.Roll, database.ErrConflict)
	}
	now := time.Now()
	st.CreatedAt, st.UpdatedAt = now, now
	s.students[st.Roll] = st
	return nil
}

// UpdateStudent replaces a student profile, possibly renaming its roll
func (s *Store) UpdateStudent(ctx context.Context, roll string, st database.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.students[roll]
	if !ok {
		return fmt.Errorf("student %s: %w", roll, database.ErrNotFound)
	}
	if st.Roll != roll {
		if _, taken := s.students[st.Roll]; taken {
			return fmt.Errorf("student %s: %w", st.Roll, database.ErrConflict)
		}
	}
	if st.Embedding == nil {
		st.Embedding = old.Embedding
	}
	if st.Photo == nil {
		st.Photo = old.Photo
	}
	st.CreatedAt = old.CreatedAt
	st.UpdatedAt = time.Now()
	delete(s.students, roll)
	s.students[st.Roll] = st
	return nil
}

// DeleteStudent removes a student
func (s *Store) DeleteStudent(ctx context.Context, roll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[roll]; !ok {
		return fmt.Errorf("student %s: %w", roll, database.ErrNotFound)
	}
	delete(s.students, roll)
	return nil
}

// GetStaff retrieves a staff member by email (case-insensitive)
func (s *Store) GetStaff(ctx context.Context, email string) (*database.Staff, error) {
	if s.GetStaffError != nil {
		return nil, s.GetStaffError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.staff[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, fmt.Errorf("staff %s: %w", email, database.ErrNotFound)
	}
	return &st, nil
}

// ListRecords returns the records of one date and slot ordered by roll
func (s *Store) ListRecords(ctx context.Context, date, slot string) ([]database.AttendanceRecord, error) {
	if s.ListRecordsError != nil {
		return nil, s.ListRecordsError
	}
	if s.ListRecordsHook != nil {
		if err := s.ListRecordsHook(date, slot); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.AttendanceRecord
	for k, rec := range s.records {
		if k.date == date && k.slot == slot {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b database.AttendanceRecord) int { return strings.Compare(a.Roll, b.Roll) })
	return out, nil
}

// HasRecords reports whether any record references roll
func (s *Store) HasRecords(ctx context.Context, roll string) (bool, error) {
	if s.ListRecordsError != nil {
		return false, s.ListRecordsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.records {
		if k.roll == roll {
			return true, nil
		}
	}
	return false, nil
}

// InsertRecord stores a record unless its key already exists
func (s *Store) InsertRecord(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	if s.InsertRecordError != nil {
		return false, s.InsertRecordError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{rec.Roll, rec.Date, rec.Slot}
	if existing, ok := s.records[key]; ok {
		*rec = existing
		return false, nil
	}
	s.nextID++
	rec.ID = s.nextID
	s.records[key] = *rec
	return true, nil
}

// DeleteSlot removes every record of a date and slot
func (s *Store) DeleteSlot(ctx context.Context, date, slot string) (int64, error) {
	if s.DeleteSlotError != nil {
		return 0, s.DeleteSlotError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.records {
		if k.date == date && k.slot == slot {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// RecordCount returns the number of stored attendance records.
func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping reports the injected error, if any
func (s *Store) Ping(ctx context.Context) error {
	return s.PingError
}
