package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/classroom-attendance/internal/constants"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/roster"
)

// RosterService is the student management the handlers need.
type RosterService interface {
	Create(ctx context.Context, in roster.Input, photo []byte) (*database.Student, error)
	List(ctx context.Context) ([]database.Student, error)
	Update(ctx context.Context, roll string, upd roster.Update) (*database.Student, error)
	Delete(ctx context.Context, roll string) error
}

// StudentsHandler handles roster endpoints
type StudentsHandler struct {
	roster RosterService
}

// NewStudentsHandler creates a new students handler
func NewStudentsHandler(svc RosterService) *StudentsHandler {
	return &StudentsHandler{roster: svc}
}

// StudentResponse is the public view of a student.
type StudentResponse struct {
	Roll           string `json:"roll"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Department     string `json:"department"`
	Section        string `json:"section"`
	Batch          string `json:"batch"`
	Phone          string `json:"phone"`
}

func toStudentResponse(st *database.Student) StudentResponse {
	return StudentResponse{
		Roll:           st.Roll,
		Name:           st.Name,
		Specialization: st.Cohort.Specialization,
		Department:     st.Cohort.Department,
		Section:        st.Cohort.Section,
		Batch:          st.Cohort.Batch,
		Phone:          st.Phone,
	}
}

// List returns the roster
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.roster.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]StudentResponse, len(students))
	for i := range students {
		out[i] = toStudentResponse(&students[i])
	}
	respondJSON(w, http.StatusOK, out)
}

// Create enrols a student from a multipart form with a "photo" file
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxPhotoUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is required")
		return
	}
	defer file.Close()
	photo, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read photo")
		return
	}

	in := roster.Input{
		Roll:           r.FormValue("roll"),
		Name:           r.FormValue("name"),
		Specialization: r.FormValue("specialization"),
		Department:     r.FormValue("department"),
		Section:        r.FormValue("section"),
		Batch:          r.FormValue("batch"),
		Phone:          r.FormValue("phone"),
	}
	st, err := h.roster.Create(r.Context(), in, photo)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toStudentResponse(st))
}

// Update changes profile fields of a student
func (h *StudentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd roster.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	st, err := h.roster.Update(r.Context(), chi.URLParam(r, "roll"), upd)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toStudentResponse(st))
}

// Delete removes a student
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	roll := chi.URLParam(r, "roll")
	if err := h.roster.Delete(r.Context(), roll); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
