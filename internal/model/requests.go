package model

import "time"

// CreateClassRequest is the request body for creating a class
type CreateClassRequest struct {
	Name       string   `json:"name" validate:"required,max=100"`
	TeacherIDs []string `json:"teacherIds" validate:"omitempty,dive,required"`
}

// AddStudentRequest is the request body for adding a student to a class roster
type AddStudentRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	RollNumber string `json:"rollNumber" validate:"required,max=20"`
	Email      string `json:"email" validate:"omitempty,email"`
	UserID     string `json:"userId"`
}

// CreateExamRequest is the request body for creating an exam
type CreateExamRequest struct {
	ClassID    string         `json:"classId" validate:"required"`
	SubjectID  string         `json:"subjectId"`
	Title      string         `json:"title" validate:"required,max=200"`
	Language   string         `json:"language" validate:"omitempty,max=10"`
	TotalMarks float64        `json:"totalMarks" validate:"gte=0"`
	Questions  []ExamQuestion `json:"questions" validate:"omitempty,dive"`
	ExamDate   time.Time      `json:"examDate"`
}

// MarkReasonRequest is the request body for missing and absent markers
type MarkReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ManualOverrideRequest is the request body for a teacher correction
type ManualOverrideRequest struct {
	QuestionNumber  int     `json:"questionNumber" validate:"required,gt=0"`
	CorrectedAnswer string  `json:"correctedAnswer" validate:"max=5000"`
	CorrectedMarks  float64 `json:"correctedMarks" validate:"gte=0"`
	Reason          string  `json:"reason" validate:"required,max=500"`
}

// AssignStudentRequest is the request body for manually matching a sheet
type AssignStudentRequest struct {
	StudentID string `json:"studentId" validate:"required"`
}

// AICorrectionRequest carries an externally produced correction result
type AICorrectionRequest struct {
	TotalMarks      float64                 `json:"totalMarks" validate:"gte=0"`
	ObtainedMarks   float64                 `json:"obtainedMarks" validate:"gte=0"`
	Percentage      float64                 `json:"percentage" validate:"gte=0,lte=100"`
	Questions       []QuestionResultRequest `json:"questions" validate:"required,min=1,dive"`
	OverallFeedback string                  `json:"overallFeedback"`
	Strengths       []string                `json:"strengths"`
	Weaknesses      []string                `json:"weaknesses"`
	Suggestions     []string                `json:"suggestions"`
	Confidence      float64                 `json:"confidence" validate:"gte=0,lte=1"`
}

// QuestionResultRequest is one question of an AICorrectionRequest
type QuestionResultRequest struct {
	QuestionNumber int     `json:"questionNumber" validate:"required,gt=0"`
	CorrectAnswer  string  `json:"correctAnswer"`
	StudentAnswer  string  `json:"studentAnswer"`
	IsCorrect      bool    `json:"isCorrect"`
	MarksAwarded   float64 `json:"marksAwarded" validate:"gte=0"`
	MaxMarks       float64 `json:"maxMarks" validate:"gte=0"`
	Feedback       string  `json:"feedback"`
	Confidence     float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// ToCorrection converts the request into the stored schema
func (r *AICorrectionRequest) ToCorrection() *AICorrection {
	c := &AICorrection{
		TotalMarks:      r.TotalMarks,
		ObtainedMarks:   r.ObtainedMarks,
		Percentage:      r.Percentage,
		OverallFeedback: r.OverallFeedback,
		Strengths:       r.Strengths,
		Weaknesses:      r.Weaknesses,
		Suggestions:     r.Suggestions,
		Confidence:      r.Confidence,
	}
	for _, q := range r.Questions {
		c.Questions = append(c.Questions, QuestionResult(q))
	}
	return c
}
