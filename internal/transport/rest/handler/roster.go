package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"gradeflow/internal/model"
	"gradeflow/internal/service"
	"gradeflow/internal/transport/rest/middleware"
)

// RosterHandler handles class, student and exam administration
type RosterHandler struct {
	rosterSvc *service.RosterService
}

// NewRosterHandler creates a new roster handler
func NewRosterHandler(rosterSvc *service.RosterService) *RosterHandler {
	return &RosterHandler{rosterSvc: rosterSvc}
}

// CreateClass handles POST /v1/classes
func (h *RosterHandler) CreateClass(w http.ResponseWriter, r *http.Request) {
	var req model.CreateClassRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	class, err := h.rosterSvc.CreateClass(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

// AddStudent handles POST /v1/classes/{classId}/students
func (h *RosterHandler) AddStudent(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["classId"]
	if err := h.rosterSvc.RequireClassAccess(r.Context(), middleware.GetUserID(r.Context()), classID); err != nil {
		writeServiceError(w, err)
		return
	}

	var req model.AddStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	student, err := h.rosterSvc.AddStudent(r.Context(), classID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

// ListStudents handles GET /v1/classes/{classId}/students
func (h *RosterHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["classId"]
	if err := h.rosterSvc.RequireClassAccess(r.Context(), middleware.GetUserID(r.Context()), classID); err != nil {
		writeServiceError(w, err)
		return
	}

	students, err := h.rosterSvc.ListActiveStudents(r.Context(), classID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"students": students})
}

// CreateExam handles POST /v1/exams
func (h *RosterHandler) CreateExam(w http.ResponseWriter, r *http.Request) {
	var req model.CreateExamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	exam, err := h.rosterSvc.CreateExam(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exam)
}

// GetExam handles GET /v1/exams/{examId}
func (h *RosterHandler) GetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.rosterSvc.ExamForUser(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["examId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}
