package model

import "math"

// EffectiveQuestion is the mark that counts for one question after overrides
type EffectiveQuestion struct {
	QuestionNumber int     `json:"questionNumber"`
	Marks          float64 `json:"marks"`
	MaxMarks       float64 `json:"maxMarks"`
	Overridden     bool    `json:"overridden"`
}

// EffectiveResult is the grade used for reporting
type EffectiveResult struct {
	Questions     []EffectiveQuestion `json:"questions"`
	ObtainedMarks float64             `json:"obtainedMarks"`
	TotalMarks    float64             `json:"totalMarks"`
	Percentage    float64             `json:"percentage"`
}

// EffectiveResult folds the override ledger over the AI breakdown.
// The latest override for a question replaces the AI mark; the stored AI
// payload itself is never modified. Returns nil when nothing has been graded.
func (s *AnswerSheet) EffectiveResult(totalMarks float64) *EffectiveResult {
	if s.AICorrection == nil && len(s.ManualOverrides) == 0 {
		return nil
	}

	latest := make(map[int]ManualOverride, len(s.ManualOverrides))
	for _, o := range s.ManualOverrides {
		prev, ok := latest[o.QuestionNumber]
		if !ok || !o.CorrectedAt.Before(prev.CorrectedAt) {
			latest[o.QuestionNumber] = o
		}
	}

	res := &EffectiveResult{}
	seen := make(map[int]bool)
	if s.AICorrection != nil {
		for _, q := range s.AICorrection.Questions {
			eq := EffectiveQuestion{QuestionNumber: q.QuestionNumber, Marks: q.MarksAwarded, MaxMarks: q.MaxMarks}
			if o, ok := latest[q.QuestionNumber]; ok {
				eq.Marks = o.CorrectedMarks
				eq.Overridden = true
			}
			seen[q.QuestionNumber] = true
			res.Questions = append(res.Questions, eq)
		}
	}
	for _, o := range s.ManualOverrides {
		if seen[o.QuestionNumber] {
			continue
		}
		seen[o.QuestionNumber] = true
		res.Questions = append(res.Questions, EffectiveQuestion{
			QuestionNumber: o.QuestionNumber,
			Marks:          latest[o.QuestionNumber].CorrectedMarks,
			Overridden:     true,
		})
	}

	for _, q := range res.Questions {
		res.ObtainedMarks += q.Marks
	}
	res.TotalMarks = totalMarks
	if res.TotalMarks <= 0 && s.AICorrection != nil {
		res.TotalMarks = s.AICorrection.TotalMarks
	}
	if res.TotalMarks > 0 {
		res.Percentage = math.Round(res.ObtainedMarks/res.TotalMarks*10000) / 100
	}
	return res
}

// ExamSummary aggregates the sheets of one exam
type ExamSummary struct {
	ExamID         string              `json:"examId"`
	Title          string              `json:"title"`
	TotalSheets    int                 `json:"totalSheets"`
	ByStatus       map[SheetStatus]int `json:"byStatus"`
	OpenFlags      map[FlagType]int    `json:"openFlags"`
	Unmatched      int                 `json:"unmatched"`
	Graded         int                 `json:"graded"`
	AveragePercent float64             `json:"averagePercent"`
	Rows           []ExamReportRow     `json:"rows"`
}

// ExamReportRow is one printable line of an exam report
type ExamReportRow struct {
	SheetID    string      `json:"sheetId"`
	StudentID  string      `json:"studentId,omitempty"`
	RollNumber string      `json:"rollNumber"`
	Student    string      `json:"student"`
	Status     SheetStatus `json:"status"`
	Obtained   float64     `json:"obtained"`
	Total      float64     `json:"total"`
	Percentage float64     `json:"percentage"`
	Graded     bool        `json:"graded"`
}
