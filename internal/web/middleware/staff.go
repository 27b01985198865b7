package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// StaffHeader carries the email of the authenticated staff member. It is set
// by the authenticating proxy in front of the service.
const StaffHeader = "X-Staff-Email"

// RequireStaff resolves StaffHeader into a staff context. Requests without the
// header are rejected with 401, unknown staff with 403.
func RequireStaff(staff database.StaffReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := strings.TrimSpace(r.Header.Get(StaffHeader))
			if email == "" {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}

			st, err := staff.GetStaff(r.Context(), email)
			if errors.Is(err, database.ErrNotFound) {
				http.Error(w, `{"error": "unknown staff member"}`, http.StatusForbidden)
				return
			}
			if err != nil {
				http.Error(w, `{"error": "staff lookup failed"}`, http.StatusInternalServerError)
				return
			}

			ctx := attendance.WithStaff(r.Context(), attendance.NewStaffContext(st))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
