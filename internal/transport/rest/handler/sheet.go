package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"gradeflow/internal/model"
	"gradeflow/internal/repository"
	"gradeflow/internal/service"
	"gradeflow/internal/transport/rest/middleware"
)

// SheetHandler handles answer sheet lifecycle endpoints
type SheetHandler struct {
	sheetSvc      *service.SheetService
	processingSvc *service.ProcessingService
	rosterSvc     *service.RosterService
}

// NewSheetHandler creates a new sheet handler
func NewSheetHandler(sheetSvc *service.SheetService, processingSvc *service.ProcessingService, rosterSvc *service.RosterService) *SheetHandler {
	return &SheetHandler{
		sheetSvc:      sheetSvc,
		processingSvc: processingSvc,
		rosterSvc:     rosterSvc,
	}
}

// sheetFor loads the path's sheet if the caller may access it, writing the error otherwise
func (h *SheetHandler) sheetFor(w http.ResponseWriter, r *http.Request) (*model.AnswerSheet, bool) {
	sheet, err := h.sheetSvc.Authorize(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["sheetId"])
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return sheet, true
}

// List handles GET /v1/exams/{examId}/sheets?status=&flagged=
func (h *SheetHandler) List(w http.ResponseWriter, r *http.Request) {
	exam, err := h.rosterSvc.ExamForUser(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["examId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	q := r.URL.Query()
	filter := repository.SheetFilter{
		ExamID: exam.ID,
		Status: model.SheetStatus(q.Get("status")),
	}
	if v := q.Get("flagged"); v != "" {
		flagged, err := strconv.ParseBool(v)
		if err != nil {
			writeServiceError(w, service.NewValidationError("flagged", "must be true or false"))
			return
		}
		filter.FlaggedOnly = flagged
	}

	sheets, err := h.sheetSvc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sheets": sheets, "count": len(sheets)})
}

// Get handles GET /v1/sheets/{sheetId}
func (h *SheetHandler) Get(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// Delete handles DELETE /v1/sheets/{sheetId}
func (h *SheetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	if err := h.sheetSvc.Delete(r.Context(), sheet.ID, middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkMissing handles POST /v1/sheets/{sheetId}/missing
func (h *SheetHandler) MarkMissing(w http.ResponseWriter, r *http.Request) {
	h.markException(w, r, h.sheetSvc.MarkMissing)
}

// MarkAbsent handles POST /v1/sheets/{sheetId}/absent
func (h *SheetHandler) MarkAbsent(w http.ResponseWriter, r *http.Request) {
	h.markException(w, r, h.sheetSvc.MarkAbsent)
}

type sheetMarker func(ctx context.Context, sheetID, reason, by string) (*model.AnswerSheet, error)

func (h *SheetHandler) markException(w http.ResponseWriter, r *http.Request, mark sheetMarker) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	var req model.MarkReasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := mark(r.Context(), sheet.ID, req.Reason, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// MarkStudentMissing handles POST /v1/exams/{examId}/students/{studentId}/missing
func (h *SheetHandler) MarkStudentMissing(w http.ResponseWriter, r *http.Request) {
	h.markStudentException(w, r, h.sheetSvc.MarkStudentMissing)
}

// MarkStudentAbsent handles POST /v1/exams/{examId}/students/{studentId}/absent
func (h *SheetHandler) MarkStudentAbsent(w http.ResponseWriter, r *http.Request) {
	h.markStudentException(w, r, h.sheetSvc.MarkStudentAbsent)
}

type studentMarker func(ctx context.Context, exam *model.Exam, studentID, reason, by string) (*model.AnswerSheet, error)

func (h *SheetHandler) markStudentException(w http.ResponseWriter, r *http.Request, mark studentMarker) {
	userID := middleware.GetUserID(r.Context())
	vars := mux.Vars(r)
	exam, err := h.rosterSvc.ExamForUser(r.Context(), userID, vars["examId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req model.MarkReasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	sheet, err := mark(r.Context(), exam, vars["studentId"], req.Reason, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// Acknowledge handles POST /v1/sheets/{sheetId}/acknowledge
func (h *SheetHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	updated, err := h.sheetSvc.Acknowledge(r.Context(), sheet.ID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Process handles POST /v1/sheets/{sheetId}/process
func (h *SheetHandler) Process(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	resp, err := h.processingSvc.Process(r.Context(), sheet.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// ApplyAICorrection handles POST /v1/sheets/{sheetId}/ai-correction
func (h *SheetHandler) ApplyAICorrection(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	var req model.AICorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := h.sheetSvc.ApplyAICorrection(r.Context(), sheet.ID, req.ToCorrection())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// AddOverride handles POST /v1/sheets/{sheetId}/overrides
func (h *SheetHandler) AddOverride(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	var req model.ManualOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := h.sheetSvc.AddManualOverride(r.Context(), sheet.ID, &req, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Complete handles POST /v1/sheets/{sheetId}/complete
func (h *SheetHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	updated, err := h.sheetSvc.Complete(r.Context(), sheet.ID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Assign handles POST /v1/sheets/{sheetId}/assign
func (h *SheetHandler) Assign(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}
	var req model.AssignStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := h.sheetSvc.AssignStudent(r.Context(), sheet.ID, req.StudentID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ResolveFlag handles POST /v1/sheets/{sheetId}/flags/{index}/resolve
func (h *SheetHandler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeServiceError(w, service.NewValidationError("index", "must be an integer"))
		return
	}
	sheet, ok := h.sheetFor(w, r)
	if !ok {
		return
	}

	updated, err := h.sheetSvc.ResolveFlag(r.Context(), sheet.ID, index, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
