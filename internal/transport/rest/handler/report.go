package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"gradeflow/internal/model"
	"gradeflow/internal/service"
	"gradeflow/internal/transport/rest/middleware"
)

// ReportHandler handles exam report endpoints
type ReportHandler struct {
	reportSvc *service.ReportService
	rosterSvc *service.RosterService
}

// NewReportHandler creates a new report handler
func NewReportHandler(reportSvc *service.ReportService, rosterSvc *service.RosterService) *ReportHandler {
	return &ReportHandler{reportSvc: reportSvc, rosterSvc: rosterSvc}
}

func (h *ReportHandler) summary(w http.ResponseWriter, r *http.Request) (*model.ExamSummary, bool) {
	exam, err := h.rosterSvc.ExamForUser(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["examId"])
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	summary, err := h.reportSvc.ExamSummary(r.Context(), exam)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return summary, true
}

// Summary handles GET /v1/exams/{examId}/summary
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.summary(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// PDF handles GET /v1/exams/{examId}/report.pdf
func (h *ReportHandler) PDF(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.summary(w, r)
	if !ok {
		return
	}
	data, err := h.reportSvc.RenderPDF(summary)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s-report.pdf"`, summary.ExamID))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
