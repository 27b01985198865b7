// Package roster manages enrolled students and their reference embeddings.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
	"github.com/kozaktomas/classroom-attendance/internal/imaging"
)

// PhotoMaxEdge bounds the stored enrolment photo.
const PhotoMaxEdge = 512

var (
	ErrDuplicate = errors.New("student with this roll or name already exists")
	ErrNoFace    = errors.New("no face detected in the photo")
	ErrNotFound  = database.ErrNotFound
	// ErrRollInUse rejects renaming a roll that attendance records reference.
	ErrRollInUse = errors.New("roll is referenced by attendance records")
)

var phonePattern = regexp.MustCompile(`^\+\d{10,15}$`)

// ValidationError lists invalid fields by name and failed rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, rule := range e.Fields {
		parts = append(parts, f+": "+rule)
	}
	return "invalid student: " + strings.Join(parts, ", ")
}

// Input is a new student profile.
type Input struct {
	Roll           string `json:"roll" validate:"required,max=32"`
	Name           string `json:"name" validate:"required,max=120"`
	Specialization string `json:"specialization" validate:"required,max=120"`
	Department     string `json:"department" validate:"required,max=120"`
	Section        string `json:"section" validate:"required,max=32"`
	Batch          string `json:"batch" validate:"required,max=16"`
	Phone          string `json:"phone" validate:"required,phone"`
}

// Update changes the non-nil fields of a student.
type Update struct {
	Roll           *string `json:"roll" validate:"omitempty,max=32"`
	Name           *string `json:"name" validate:"omitempty,max=120"`
	Specialization *string `json:"specialization" validate:"omitempty,max=120"`
	Department     *string `json:"department" validate:"omitempty,max=120"`
	Section        *string `json:"section" validate:"omitempty,max=32"`
	Batch          *string `json:"batch" validate:"omitempty,max=16"`
	Phone          *string `json:"phone" validate:"omitempty,phone"`
}

func (u Update) empty() bool {
	return u.Roll == nil && u.Name == nil && u.Specialization == nil &&
		u.Department == nil && u.Section == nil && u.Batch == nil && u.Phone == nil
}

// FaceFinder detects faces in an enrolment photo.
type FaceFinder interface {
	Detect(ctx context.Context, frame []byte, p detect.Preset) (*detect.Result, error)
}

// Invalidator drops cached roster snapshots after a change.
type Invalidator interface {
	Invalidate()
}

// History reports whether attendance records reference a roll.
type History interface {
	HasRecords(ctx context.Context, roll string) (bool, error)
}

// Service applies enrolment rules on top of the student store.
type Service struct {
	store    database.StudentWriter
	faces    FaceFinder
	preset   detect.Preset
	cache    Invalidator
	history  History
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a roster service. Enrolment photos are searched with
// preset; history guards roll changes.
func NewService(store database.StudentWriter, history History, faces FaceFinder, preset detect.Preset, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return &Service{
		store:    store,
		faces:    faces,
		preset:   preset,
		cache:    cache,
		history:  history,
		validate: v,
		logger:   logger.With("component", "roster"),
	}
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func trimInput(in Input) Input {
	in.Roll = strings.TrimSpace(in.Roll)
	in.Name = strings.TrimSpace(in.Name)
	in.Specialization = strings.TrimSpace(in.Specialization)
	in.Department = strings.TrimSpace(in.Department)
	in.Section = strings.TrimSpace(in.Section)
	in.Batch = strings.TrimSpace(in.Batch)
	in.Phone = strings.TrimSpace(in.Phone)
	return in
}

// conflict reports whether another student than except uses roll or name.
func (s *Service) conflict(ctx context.Context, roll, name, except string) error {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}
	folded := NormalizeName(name)
	for _, st := range students {
		if st.Roll == except {
			continue
		}
		if st.Roll == roll || NormalizeName(st.Name) == folded {
			return fmt.Errorf("%w: %s", ErrDuplicate, st.Roll)
		}
	}
	return nil
}

// bestFace returns the embedding of the highest scoring face.
func (s *Service) bestFace(ctx context.Context, photo []byte) ([]float32, error) {
	res, err := s.faces.Detect(ctx, photo, s.preset)
	if err != nil {
		return nil, fmt.Errorf("detect face: %w", err)
	}
	var best *detect.Detection
	for i := range res.Detections {
		d := &res.Detections[i]
		if len(d.Embedding) == 0 {
			continue
		}
		if best == nil || d.Score > best.Score {
			best = d
		}
	}
	if best == nil {
		return nil, ErrNoFace
	}
	return best.Embedding, nil
}

// Create enrols a student. The reference embedding is computed from photo.
func (s *Service) Create(ctx context.Context, in Input, photo []byte) (*database.Student, error) {
	in = trimInput(in)
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.conflict(ctx, in.Roll, in.Name, ""); err != nil {
		return nil, err
	}
	embedding, err := s.bestFace(ctx, photo)
	if err != nil {
		return nil, err
	}
	thumb, err := imaging.Resize(photo, PhotoMaxEdge)
	if err != nil {
		return nil, fmt.Errorf("resize photo: %w", err)
	}

	st := database.Student{
		Roll: in.Roll,
		Name: in.Name,
		Cohort: database.Cohort{
			Specialization: in.Specialization,
			Department:     in.Department,
			Section:        in.Section,
			Batch:          in.Batch,
		},
		Phone:     in.Phone,
		Embedding: embedding,
		Photo:     thumb,
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, in.Roll)
		}
		return nil, err
	}
	s.cache.Invalidate()
	s.logger.Info("student enrolled", "roll", st.Roll, "embedding_dim", len(embedding))
	return &st, nil
}

// List returns the roster without embeddings and photos.
func (s *Service) List(ctx context.Context) ([]database.Student, error) {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range students {
		students[i].Embedding = nil
		students[i].Photo = nil
	}
	return students, nil
}

// Get returns one student including the enrolment photo.
func (s *Service) Get(ctx context.Context, roll string) (*database.Student, error) {
	return s.store.GetStudent(ctx, strings.TrimSpace(roll))
}

// Update changes profile fields. The reference embedding is kept.
func (s *Service) Update(ctx context.Context, roll string, upd Update) (*database.Student, error) {
	if upd.empty() {
		return nil, &ValidationError{Fields: map[string]string{"body": "no valid fields to update"}}
	}
	if err := s.check(upd); err != nil {
		return nil, err
	}
	cur, err := s.store.GetStudent(ctx, roll)
	if err != nil {
		return nil, err
	}

	next := *cur
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&next.Roll, upd.Roll)
	set(&next.Name, upd.Name)
	set(&next.Cohort.Specialization, upd.Specialization)
	set(&next.Cohort.Department, upd.Department)
	set(&next.Cohort.Section, upd.Section)
	set(&next.Cohort.Batch, upd.Batch)
	set(&next.Phone, upd.Phone)
	if next.Roll == "" || next.Name == "" {
		return nil, &ValidationError{Fields: map[string]string{"roll": "required", "name": "required"}}
	}

	if err := s.conflict(ctx, next.Roll, next.Name, roll); err != nil {
		return nil, err
	}
	if next.Roll != cur.Roll {
		used, err := s.history.HasRecords(ctx, cur.Roll)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, fmt.Errorf("%w: %s", ErrRollInUse, cur.Roll)
		}
	}
	next.Embedding, next.Photo = nil, nil
	if err := s.store.UpdateStudent(ctx, roll, next); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, next.Roll)
		}
		return nil, err
	}
	s.cache.Invalidate()
	s.logger.Info("student updated", "roll", roll, "new_roll", next.Roll)
	next.Embedding, next.Photo = nil, nil
	return &next, nil
}

// Delete removes a student. Attendance records are kept.
func (s *Service) Delete(ctx context.Context, roll string) error {
	if err := s.store.DeleteStudent(ctx, roll); err != nil {
		return err
	}
	s.cache.Invalidate()
	s.logger.Info("student deleted", "roll", roll)
	return nil
}
