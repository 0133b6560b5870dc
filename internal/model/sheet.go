package model

import "time"

// SheetStatus is the lifecycle state of an answer sheet
type SheetStatus string

const (
	SheetStatusUploaded         SheetStatus = "UPLOADED"
	SheetStatusProcessing       SheetStatus = "PROCESSING"
	SheetStatusAICorrected      SheetStatus = "AI_CORRECTED"
	SheetStatusManuallyReviewed SheetStatus = "MANUALLY_REVIEWED"
	SheetStatusCompleted        SheetStatus = "COMPLETED"
	SheetStatusMissing          SheetStatus = "MISSING"
	SheetStatusAbsent           SheetStatus = "ABSENT"
	SheetStatusFlagged          SheetStatus = "FLAGGED"
	SheetStatusError            SheetStatus = "ERROR"
)

// IsValid reports whether s is a known status
func (s SheetStatus) IsValid() bool {
	switch s {
	case SheetStatusUploaded, SheetStatusProcessing, SheetStatusAICorrected, SheetStatusManuallyReviewed,
		SheetStatusCompleted, SheetStatusMissing, SheetStatusAbsent, SheetStatusFlagged, SheetStatusError:
		return true
	}
	return false
}

// ScanQuality buckets the legibility of an uploaded scan
type ScanQuality string

const (
	ScanQualityExcellent  ScanQuality = "EXCELLENT"
	ScanQualityGood       ScanQuality = "GOOD"
	ScanQualityFair       ScanQuality = "FAIR"
	ScanQualityPoor       ScanQuality = "POOR"
	ScanQualityUnreadable ScanQuality = "UNREADABLE"
)

// QuestionResult is the AI verdict for one question
type QuestionResult struct {
	QuestionNumber int     `json:"questionNumber" bson:"questionNumber"`
	CorrectAnswer  string  `json:"correctAnswer" bson:"correctAnswer"`
	StudentAnswer  string  `json:"studentAnswer" bson:"studentAnswer"`
	IsCorrect      bool    `json:"isCorrect" bson:"isCorrect"`
	MarksAwarded   float64 `json:"marksAwarded" bson:"marksAwarded"`
	MaxMarks       float64 `json:"maxMarks" bson:"maxMarks"`
	Feedback       string  `json:"feedback" bson:"feedback"`
	Confidence     float64 `json:"confidence" bson:"confidence"` // 0-1
}

// AICorrection is the closed result schema produced by the correction backend
type AICorrection struct {
	TotalMarks       float64          `json:"totalMarks" bson:"totalMarks"`
	ObtainedMarks    float64          `json:"obtainedMarks" bson:"obtainedMarks"`
	Percentage       float64          `json:"percentage" bson:"percentage"`
	Questions        []QuestionResult `json:"questions" bson:"questions"`
	OverallFeedback  string           `json:"overallFeedback" bson:"overallFeedback"`
	Strengths        []string         `json:"strengths" bson:"strengths"`
	Weaknesses       []string         `json:"weaknesses" bson:"weaknesses"`
	Suggestions      []string         `json:"suggestions" bson:"suggestions"`
	Confidence       float64          `json:"confidence" bson:"confidence"` // 0-1
	ProcessingTimeMs int64            `json:"processingTimeMs" bson:"processingTimeMs"`
	Errors           []string         `json:"errors,omitempty" bson:"errors,omitempty"`
}

// ManualOverride is one entry of the append-only teacher correction ledger
type ManualOverride struct {
	QuestionNumber  int       `json:"questionNumber" bson:"questionNumber"`
	CorrectedAnswer string    `json:"correctedAnswer" bson:"correctedAnswer"`
	CorrectedMarks  float64   `json:"correctedMarks" bson:"correctedMarks"`
	Reason          string    `json:"reason" bson:"reason"`
	CorrectedBy     string    `json:"correctedBy" bson:"correctedBy"`
	CorrectedAt     time.Time `json:"correctedAt" bson:"correctedAt"`
}

// AnswerSheet is one student's scanned response for one exam
type AnswerSheet struct {
	ID         string `json:"id" bson:"_id,omitempty"`
	ExamID     string `json:"examId" bson:"examId"`
	StudentID  string `json:"studentId,omitempty" bson:"studentId,omitempty"` // absent until matched
	UploadedBy string `json:"uploadedBy" bson:"uploadedBy"`

	// File provenance
	OriginalFileName string `json:"originalFileName,omitempty" bson:"originalFileName,omitempty"`
	FileURL          string `json:"fileUrl,omitempty" bson:"fileUrl,omitempty"`
	StorageKey       string `json:"storageKey,omitempty" bson:"storageKey,omitempty"`
	ContentType      string `json:"contentType,omitempty" bson:"contentType,omitempty"`
	ContentHash      string `json:"contentHash,omitempty" bson:"contentHash,omitempty"`
	FileSize         int64  `json:"fileSize,omitempty" bson:"fileSize,omitempty"`

	Status       SheetStatus `json:"status" bson:"status"`
	ErrorMessage string      `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	Language     string      `json:"language" bson:"language"`

	// Scan metadata
	ScanQuality          ScanQuality `json:"scanQuality,omitempty" bson:"scanQuality,omitempty"`
	IsAligned            bool        `json:"isAligned" bson:"isAligned"`
	DetectedRollNumber   string      `json:"detectedRollNumber,omitempty" bson:"detectedRollNumber,omitempty"`
	RollNumberConfidence float64     `json:"rollNumberConfidence" bson:"rollNumberConfidence"` // 0-100
	MatchConfidence      float64     `json:"matchConfidence" bson:"matchConfidence"`           // 0-1

	AICorrection    *AICorrection    `json:"aiCorrection,omitempty" bson:"aiCorrection,omitempty"`
	ManualOverrides []ManualOverride `json:"manualOverrides" bson:"manualOverrides"`

	// Exception state
	IsMissing      bool       `json:"isMissing" bson:"isMissing"`
	MissingReason  string     `json:"missingReason,omitempty" bson:"missingReason,omitempty"`
	IsAbsent       bool       `json:"isAbsent" bson:"isAbsent"`
	AbsentReason   string     `json:"absentReason,omitempty" bson:"absentReason,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty" bson:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty" bson:"acknowledgedAt,omitempty"`

	// Flags and their derived fields
	Flags              []SheetFlag `json:"flags" bson:"flags"`
	FlagCount          int         `json:"flagCount" bson:"flagCount"`
	HasCriticalFlags   bool        `json:"hasCriticalFlags" bson:"hasCriticalFlags"`
	LastFlaggedAt      *time.Time  `json:"lastFlaggedAt,omitempty" bson:"lastFlaggedAt,omitempty"`
	FlagResolutionRate float64     `json:"flagResolutionRate" bson:"flagResolutionRate"`

	UploadedAt          time.Time  `json:"uploadedAt" bson:"uploadedAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty" bson:"processingStartedAt,omitempty"`
	ProcessedAt         *time.Time `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`

	IsActive  bool      `json:"isActive" bson:"isActive"`
	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// IsTerminal reports whether the sheet left the grading pipeline for good
func (s *AnswerSheet) IsTerminal() bool {
	switch s.Status {
	case SheetStatusMissing, SheetStatusAbsent, SheetStatusCompleted:
		return true
	}
	return false
}

// IsMatched reports whether a student has been associated with the sheet
func (s *AnswerSheet) IsMatched() bool {
	return s.StudentID != ""
}

// AddFlag appends a flag stamped at now
func (s *AnswerSheet) AddFlag(t FlagType, sev FlagSeverity, description string, now time.Time) {
	s.Flags = append(s.Flags, SheetFlag{
		Type:        t,
		Severity:    sev,
		Description: description,
		DetectedAt:  now,
	})
}

// ResolveFlags resolves every unresolved flag of type t and returns how many changed.
func (s *AnswerSheet) ResolveFlags(t FlagType, by string, auto bool, now time.Time) int {
	n := 0
	for i := range s.Flags {
		f := &s.Flags[i]
		if f.Type != t || f.Resolved {
			continue
		}
		f.resolve(by, auto, now)
		n++
	}
	return n
}

// progressStatus is where a sheet stands in the grading pipeline ignoring flags
func (s *AnswerSheet) progressStatus() SheetStatus {
	switch {
	case len(s.ManualOverrides) > 0:
		return SheetStatusManuallyReviewed
	case s.AICorrection != nil:
		return SheetStatusAICorrected
	default:
		return SheetStatusUploaded
	}
}

// Reconcile recomputes the derived flag fields and settles the status.
// Flags and match state are independent axes; the status is the most severe
// outcome of the two. FLAGGED reverts to the pipeline status once nothing blocks.
func (s *AnswerSheet) Reconcile() {
	ApplyFlagStats(s)

	switch s.Status {
	case SheetStatusMissing, SheetStatusAbsent, SheetStatusError, SheetStatusCompleted, SheetStatusProcessing:
		return
	}

	if !s.IsMatched() || HasBlockingFlags(s.Flags) {
		s.Status = SheetStatusFlagged
		return
	}
	if s.Status == SheetStatusFlagged {
		s.Status = s.progressStatus()
	}
}
