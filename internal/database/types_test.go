package database

import (
	"context"
	"errors"
	"testing"
)

func TestCohortMatches(t *testing.T) {
	base := Cohort{Specialization: "AI", Department: "CSE", Section: "A", Batch: "2022"}

	tests := []struct {
		name  string
		other Cohort
		want  bool
	}{
		{"identical", base, true},
		{"batch with whitespace", Cohort{"AI", "CSE", "A", " 2022 "}, true},
		{"different specialization", Cohort{"DS", "CSE", "A", "2022"}, false},
		{"different department", Cohort{"AI", "ECE", "A", "2022"}, false},
		{"different section", Cohort{"AI", "CSE", "B", "2022"}, false},
		{"different batch", Cohort{"AI", "CSE", "A", "2023"}, false},
		{"empty", Cohort{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := base.Matches(tc.other); got != tc.want {
				t.Errorf("Matches(%+v) = %v, want %v", tc.other, got, tc.want)
			}
			if got := tc.other.Matches(base); got != tc.want {
				t.Errorf("Matches is not symmetric for %+v", tc.other)
			}
		})
	}
}

func TestCohortIsZero(t *testing.T) {
	if !(Cohort{}).IsZero() {
		t.Error("expected empty cohort to be zero")
	}
	if (Cohort{Section: "A"}).IsZero() {
		t.Error("expected cohort with a section to be non-zero")
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestProvider_NotInitialized(t *testing.T) {
	ResetBackend()

	if IsInitialized() {
		t.Fatal("expected backend to be uninitialized")
	}
	if _, err := GetStudentWriter(); err == nil {
		t.Error("expected error from GetStudentWriter")
	}
	if _, err := GetStaffReader(); err == nil {
		t.Error("expected error from GetStaffReader")
	}
	if _, err := GetAttendanceWriter(); err == nil {
		t.Error("expected error from GetAttendanceWriter")
	}
	if err := Ping(context.Background()); err == nil {
		t.Error("expected error from Ping")
	}
}

func TestProvider_MissingRepository(t *testing.T) {
	RegisterBackend(&Backend{Name: "partial"})
	defer ResetBackend()

	if BackendName() != "partial" {
		t.Errorf("expected backend name 'partial', got %q", BackendName())
	}
	if _, err := GetStudentWriter(); err == nil {
		t.Error("expected error for unregistered student repository")
	}
	if err := Ping(context.Background()); err != nil {
		t.Errorf("expected nil ping without health hook, got %v", err)
	}
}

func TestProvider_Ping(t *testing.T) {
	boom := errors.New("connection refused")
	RegisterBackend(&Backend{Name: "test", Health: fakePinger{err: boom}})
	defer ResetBackend()

	if err := Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected ping error, got %v", err)
	}
}
