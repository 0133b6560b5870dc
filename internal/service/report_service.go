package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jung-kurt/gofpdf"

	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

// ReportService builds exam summaries and printable reports
type ReportService struct {
	sheets repository.SheetRepo
	roster *RosterService
}

// NewReportService creates a new report service
func NewReportService(sheets repository.SheetRepo, roster *RosterService) *ReportService {
	return &ReportService{sheets: sheets, roster: roster}
}

// ExamSummary aggregates the active sheets of an exam. Marks come from the
// effective result, so the latest manual override of a question counts.
func (s *ReportService) ExamSummary(ctx context.Context, exam *model.Exam) (*model.ExamSummary, error) {
	sheets, err := s.sheets.List(ctx, repository.SheetFilter{ExamID: exam.ID})
	if err != nil {
		return nil, err
	}
	students, err := s.roster.ListActiveStudents(ctx, exam.ClassID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Student, len(students))
	for _, st := range students {
		byID[st.ID] = st
	}

	summary := &model.ExamSummary{
		ExamID:      exam.ID,
		Title:       exam.Title,
		TotalSheets: len(sheets),
		ByStatus:    map[model.SheetStatus]int{},
		OpenFlags:   map[model.FlagType]int{},
		Rows:        []model.ExamReportRow{},
	}

	percentSum := 0.0
	for _, sheet := range sheets {
		summary.ByStatus[sheet.Status]++
		for _, f := range sheet.Flags {
			if !f.Resolved {
				summary.OpenFlags[f.Type]++
			}
		}
		if !sheet.IsMatched() {
			summary.Unmatched++
		}

		row := model.ExamReportRow{
			SheetID:    sheet.ID,
			StudentID:  sheet.StudentID,
			RollNumber: sheet.DetectedRollNumber,
			Status:     sheet.Status,
			Total:      exam.MaxMarks(),
		}
		if st, ok := byID[sheet.StudentID]; ok {
			row.Student = st.Name
			row.RollNumber = st.RollNumber
		} else if sheet.IsMatched() {
			// Student left the roster after grading.
			if st, err := s.roster.GetStudent(ctx, sheet.StudentID); err == nil {
				row.Student = st.Name
				row.RollNumber = st.RollNumber
			}
		}
		if res := sheet.EffectiveResult(exam.MaxMarks()); res != nil {
			row.Graded = true
			row.Obtained = res.ObtainedMarks
			row.Total = res.TotalMarks
			row.Percentage = res.Percentage
			summary.Graded++
			percentSum += res.Percentage
		}
		summary.Rows = append(summary.Rows, row)
	}

	if summary.Graded > 0 {
		summary.AveragePercent = math.Round(percentSum/float64(summary.Graded)*100) / 100
	}
	sort.SliceStable(summary.Rows, func(i, j int) bool {
		return summary.Rows[i].RollNumber < summary.Rows[j].RollNumber
	})
	return summary, nil
}

// RenderPDF renders a one-table A4 report of the exam summary
func (s *ReportService) RenderPDF(summary *model.ExamSummary) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(summary.Title, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, summary.Title)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Sheets: %d   Graded: %d   Unmatched: %d   Average: %.2f%%",
		summary.TotalSheets, summary.Graded, summary.Unmatched, summary.AveragePercent))
	pdf.Ln(10)

	widths := []float64{25, 60, 40, 35, 25}
	headers := []string{"Roll No.", "Student", "Status", "Marks", "%"}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range summary.Rows {
		marks, percent := "-", "-"
		if row.Graded {
			marks = fmt.Sprintf("%.2f / %.2f", row.Obtained, row.Total)
			percent = fmt.Sprintf("%.2f", row.Percentage)
		}
		student := row.Student
		if student == "" {
			student = "(unmatched)"
		}
		cells := []string{row.RollNumber, student, string(row.Status), marks, percent}
		for i, c := range cells {
			align := "L"
			if i >= 3 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 7, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}
