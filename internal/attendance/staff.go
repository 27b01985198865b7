package attendance

import (
	"context"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

type contextKey string

const staffContextKey contextKey = "staff"

// StaffContext carries the requesting staff identity through one request.
type StaffContext struct {
	Email  string
	Name   string
	Cohort database.Cohort
}

// NewStaffContext builds a request context value from a stored staff member.
func NewStaffContext(st *database.Staff) *StaffContext {
	return &StaffContext{Email: st.Email, Name: st.Name, Cohort: st.Cohort}
}

// WithStaff returns a copy of ctx carrying the staff identity.
func WithStaff(ctx context.Context, sc *StaffContext) context.Context {
	return context.WithValue(ctx, staffContextKey, sc)
}

// StaffFrom retrieves the staff identity from ctx, or nil.
func StaffFrom(ctx context.Context) *StaffContext {
	sc, ok := ctx.Value(staffContextKey).(*StaffContext)
	if !ok {
		return nil
	}
	return sc
}

// CohortMembers returns the rolls of roster students in the staff's cohort.
func (sc *StaffContext) CohortMembers(roster []database.Student) map[string]struct{} {
	members := make(map[string]struct{})
	for _, st := range roster {
		if st.Cohort.Matches(sc.Cohort) {
			members[st.Roll] = struct{}{}
		}
	}
	return members
}
