package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// StaffRepository provides PostgreSQL-backed staff lookups
type StaffRepository struct {
	pool *Pool
}

var _ database.StaffWriter = (*StaffRepository)(nil)

// NewStaffRepository creates a new PostgreSQL staff repository
func NewStaffRepository(pool *Pool) *StaffRepository {
	return &StaffRepository{pool: pool}
}

// GetStaff retrieves a staff member by email, case-insensitively
func (r *StaffRepository) GetStaff(ctx context.Context, email string) (*database.Staff, error) {
	query := `
		SELECT email, name, specialization, department, section, batch
		FROM staff
		WHERE email = $1
	`
	var s database.Staff
	err := r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&s.Email,
		&s.Name,
		&s.Cohort.Specialization,
		&s.Cohort.Department,
		&s.Cohort.Section,
		&s.Cohort.Batch,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("staff %s: %w", email, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get staff: %w", err)
	}
	return &s, nil
}

// SaveStaff inserts or replaces a staff member
func (r *StaffRepository) SaveStaff(ctx context.Context, s database.Staff) error {
	query := `
		INSERT INTO staff (email, name, specialization, department, section, batch)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			specialization = EXCLUDED.specialization,
			department = EXCLUDED.department,
			section = EXCLUDED.section,
			batch = EXCLUDED.batch
	`
	_, err := r.pool.Exec(ctx, query,
		strings.ToLower(strings.TrimSpace(s.Email)), s.Name,
		s.Cohort.Specialization, s.Cohort.Department, s.Cohort.Section, s.Cohort.Batch,
	)
	if err != nil {
		return fmt.Errorf("save staff: %w", err)
	}
	return nil
}
