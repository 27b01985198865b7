package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// uniqueViolation is the SQLSTATE of a duplicate key.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// StudentRepository provides PostgreSQL-backed roster storage
type StudentRepository struct {
	pool *Pool
}

var _ database.StudentWriter = (*StudentRepository)(nil)

// NewStudentRepository creates a new PostgreSQL student repository
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `roll, name, specialization, department, section, batch, phone, embedding, photo, created_at, updated_at`

func scanStudent(row interface{ Scan(...any) error }) (*database.Student, error) {
	var s database.Student
	var vec pgvector.Vector
	err := row.Scan(
		&s.Roll,
		&s.Name,
		&s.Cohort.Specialization,
		&s.Cohort.Department,
		&s.Cohort.Section,
		&s.Cohort.Batch,
		&s.Phone,
		&vec,
		&s.Photo,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Embedding = vec.Slice()
	return &s, nil
}

// ListStudents returns every student ordered by roll
func (r *StudentRepository) ListStudents(ctx context.Context) ([]database.Student, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+studentColumns+" FROM students ORDER BY roll")
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// GetStudent retrieves a student by roll
func (r *StudentRepository) GetStudent(ctx context.Context, roll string) (*database.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx, "SELECT "+studentColumns+" FROM students WHERE roll = $1", roll))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", roll, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}

// CreateStudent inserts a new student with its reference embedding
func (r *StudentRepository) CreateStudent(ctx context.Context, s database.Student) error {
	if len(s.Embedding) == 0 {
		return errors.New("create student: embedding is required")
	}
	query := `
		INSERT INTO students (roll, name, specialization, department, section, batch, phone, embedding, photo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		s.Roll, s.Name,
		s.Cohort.Specialization, s.Cohort.Department, s.Cohort.Section, s.Cohort.Batch,
		s.Phone, pgvector.NewVector(s.Embedding), s.Photo,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("student %s: %w", s.Roll, database.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateStudent replaces the profile of roll. A nil embedding or photo keeps
// the stored value.
func (r *StudentRepository) UpdateStudent(ctx context.Context, roll string, s database.Student) error {
	var embedding any
	if len(s.Embedding) > 0 {
		embedding = pgvector.NewVector(s.Embedding)
	}
	query := `
		UPDATE students SET
			roll = $2,
			name = $3,
			specialization = $4,
			department = $5,
			section = $6,
			batch = $7,
			phone = $8,
			embedding = COALESCE($9::vector, embedding),
			photo = COALESCE($10, photo),
			updated_at = NOW()
		WHERE roll = $1
	`
	result, err := r.pool.Exec(ctx, query,
		roll, s.Roll, s.Name,
		s.Cohort.Specialization, s.Cohort.Department, s.Cohort.Section, s.Cohort.Batch,
		s.Phone, embedding, s.Photo,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("student %s: %w", s.Roll, database.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return requireAffected(result, "student "+roll)
}

// DeleteStudent removes a student; attendance rows are kept
func (r *StudentRepository) DeleteStudent(ctx context.Context, roll string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM students WHERE roll = $1", roll)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return requireAffected(result, "student "+roll)
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, database.ErrNotFound)
	}
	return nil
}
