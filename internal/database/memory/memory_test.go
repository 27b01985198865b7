package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

func TestStore_StudentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.CreateStudent(ctx, database.Student{Roll: "R2", Name: "Bea", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("create R2: %v", err)
	}
	if err := s.CreateStudent(ctx, database.Student{Roll: "R1", Name: "Ada"}); err != nil {
		t.Fatalf("create R1: %v", err)
	}
	if err := s.CreateStudent(ctx, database.Student{Roll: "R1", Name: "Dup"}); !errors.Is(err, database.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	list, err := s.ListStudents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Roll != "R1" || list[1].Roll != "R2" {
		t.Fatalf("expected students ordered by roll, got %+v", list)
	}

	// Update without an embedding keeps the stored one.
	if err := s.UpdateStudent(ctx, "R2", database.Student{Roll: "R3", Name: "Bea"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetStudent(ctx, "R3")
	if err != nil {
		t.Fatalf("get renamed: %v", err)
	}
	if len(got.Embedding) != 2 {
		t.Errorf("expected embedding to survive update, got %v", got.Embedding)
	}
	if _, err := s.GetStudent(ctx, "R2"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected old roll to be gone, got %v", err)
	}

	if err := s.UpdateStudent(ctx, "R3", database.Student{Roll: "R1"}); !errors.Is(err, database.ErrConflict) {
		t.Errorf("expected conflict on roll rename, got %v", err)
	}
	if err := s.DeleteStudent(ctx, "R3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteStudent(ctx, "R3"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStore_InsertRecordIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	first := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)

	rec := &database.AttendanceRecord{Roll: "R1", Date: "2025-03-10", Slot: "09:00", Status: database.StatusPresent, MarkedAt: first}
	created, err := s.InsertRecord(ctx, rec)
	if err != nil || !created {
		t.Fatalf("expected first insert to create, got created=%v err=%v", created, err)
	}

	again := &database.AttendanceRecord{Roll: "R1", Date: "2025-03-10", Slot: "09:00", Status: database.StatusPresent, MarkedAt: first.Add(time.Minute)}
	created, err = s.InsertRecord(ctx, again)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Error("expected second insert to be a no-op")
	}
	if !again.MarkedAt.Equal(first) || again.ID != rec.ID {
		t.Errorf("expected stored record to be returned, got %+v", again)
	}
	if s.RecordCount() != 1 {
		t.Errorf("expected 1 record, got %d", s.RecordCount())
	}
}

func TestStore_InsertRecordConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &database.AttendanceRecord{Roll: "R1", Date: "2025-03-10", Slot: "10:00", Status: database.StatusPresent}
			created, err := s.InsertRecord(ctx, rec)
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("expected exactly one creation, got %d", createdCount)
	}
}

func TestStore_ListAndDeleteSlot(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, rec := range []database.AttendanceRecord{
		{Roll: "R2", Date: "2025-03-10", Slot: "09:00"},
		{Roll: "R1", Date: "2025-03-10", Slot: "09:00"},
		{Roll: "R1", Date: "2025-03-10", Slot: "10:00"},
		{Roll: "R1", Date: "2025-03-11", Slot: "09:00"},
	} {
		rec := rec
		if _, err := s.InsertRecord(ctx, &rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recs, err := s.ListRecords(ctx, "2025-03-10", "09:00")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].Roll != "R1" || recs[1].Roll != "R2" {
		t.Errorf("unexpected records %+v", recs)
	}

	if has, err := s.HasRecords(ctx, "R2"); err != nil || !has {
		t.Errorf("expected history for R2, got %v / %v", has, err)
	}
	if has, err := s.HasRecords(ctx, "R3"); err != nil || has {
		t.Errorf("expected no history for R3, got %v / %v", has, err)
	}

	n, err := s.DeleteSlot(ctx, "2025-03-10", "09:00")
	if err != nil {
		t.Fatalf("delete slot: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if s.RecordCount() != 2 {
		t.Errorf("expected 2 remaining, got %d", s.RecordCount())
	}
	if has, _ := s.HasRecords(ctx, "R2"); has {
		t.Error("expected R2 history gone with its slot")
	}
}

func TestStore_ErrorInjection(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	s.ListRecordsHook = func(date, slot string) error {
		if slot == "11:00" {
			return boom
		}
		return nil
	}
	if _, err := s.ListRecords(ctx, "2025-03-10", "11:00"); !errors.Is(err, boom) {
		t.Errorf("expected hook error, got %v", err)
	}
	if _, err := s.ListRecords(ctx, "2025-03-10", "12:00"); err != nil {
		t.Errorf("expected no error for other slot, got %v", err)
	}

	s.InsertRecordError = boom
	if _, err := s.InsertRecord(ctx, &database.AttendanceRecord{Roll: "R1"}); !errors.Is(err, boom) {
		t.Errorf("expected injected insert error, got %v", err)
	}
}

func TestStore_StaffLookupCaseInsensitive(t *testing.T) {
	s := NewStore()
	s.AddStaff(database.Staff{Email: "Teacher@School.edu", Name: "T"})

	st, err := s.GetStaff(context.Background(), "teacher@school.edu")
	if err != nil {
		t.Fatalf("get staff: %v", err)
	}
	if st.Name != "T" {
		t.Errorf("expected staff T, got %q", st.Name)
	}
}

func TestStore_Register(t *testing.T) {
	s := NewStore()
	s.Register()
	defer database.ResetBackend()

	w, err := database.GetAttendanceWriter()
	if err != nil {
		t.Fatalf("get writer: %v", err)
	}
	if w != s {
		t.Error("expected registered writer to be the store")
	}
	if database.BackendName() != "memory" {
		t.Errorf("expected backend name memory, got %q", database.BackendName())
	}
}
