package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage
type AttendanceRepository struct {
	pool *Pool
}

var _ database.AttendanceWriter = (*AttendanceRepository)(nil)

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `id, roll, to_char(date, 'YYYY-MM-DD'), slot, status, confidence, source, marked_at`

func scanRecord(row interface{ Scan(...any) error }, rec *database.AttendanceRecord) error {
	return row.Scan(
		&rec.ID,
		&rec.Roll,
		&rec.Date,
		&rec.Slot,
		&rec.Status,
		&rec.Confidence,
		&rec.Source,
		&rec.MarkedAt,
	)
}

// ListRecords returns all records of a date and slot ordered by roll
func (r *AttendanceRepository) ListRecords(ctx context.Context, date, slot string) ([]database.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE date = $1 AND slot = $2 ORDER BY roll`
	rows, err := r.pool.Query(ctx, query, date, slot)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// HasRecords reports whether any record references roll
func (r *AttendanceRepository) HasRecords(ctx context.Context, roll string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM attendance WHERE roll = $1)", roll).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attendance history: %w", err)
	}
	return exists, nil
}

// InsertRecord stores rec unless (roll, date, slot) is already marked. When
// the key exists the stored row is read back into rec.
func (r *AttendanceRepository) InsertRecord(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now()
	}
	insert := `
		INSERT INTO attendance (roll, date, slot, status, confidence, source, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (roll, date, slot) DO NOTHING
		RETURNING ` + attendanceColumns
	err := scanRecord(r.pool.QueryRow(ctx, insert,
		rec.Roll, rec.Date, rec.Slot, rec.Status, rec.Confidence, rec.Source, rec.MarkedAt,
	), rec)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("insert attendance: %w", err)
	}

	// Lost the race or marked earlier; the stored row stands.
	existing := `SELECT ` + attendanceColumns + ` FROM attendance WHERE roll = $1 AND date = $2 AND slot = $3`
	if err := scanRecord(r.pool.QueryRow(ctx, existing, rec.Roll, rec.Date, rec.Slot), rec); err != nil {
		return false, fmt.Errorf("read existing attendance: %w", err)
	}
	return false, nil
}

// DeleteSlot removes every record of a date and slot
func (r *AttendanceRepository) DeleteSlot(ctx context.Context, date, slot string) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM attendance WHERE date = $1 AND slot = $2", date, slot)
	if err != nil {
		return 0, fmt.Errorf("delete attendance slot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
