package model

import "time"

// RollNumberDetection is what the detector read off a sheet
type RollNumberDetection struct {
	RollNumber       string      `json:"rollNumber,omitempty"`
	Confidence       float64     `json:"confidence"` // 0-1
	ImageQuality     ScanQuality `json:"imageQuality"`
	IsAligned        bool        `json:"isAligned"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
	Backend          string      `json:"backend"`
}

// Found reports whether a roll number was extracted
func (d *RollNumberDetection) Found() bool {
	return d != nil && d.RollNumber != ""
}

// StudentCandidate is a roster entry considered by the matcher
type StudentCandidate struct {
	StudentID  string  `json:"studentId"`
	Name       string  `json:"name"`
	RollNumber string  `json:"rollNumber"`
	Similarity float64 `json:"similarity"`
}

// StudentMatch is the matcher's verdict for one roll number
type StudentMatch struct {
	MatchedStudent *StudentCandidate  `json:"matchedStudent,omitempty"`
	Confidence     float64            `json:"confidence"` // 0-1
	Alternatives   []StudentCandidate `json:"alternatives"`
	ExactMatch     bool               `json:"exactMatch"`
}

// DetectAndMatchResult is a dry run of the upload pipeline
type DetectAndMatchResult struct {
	RollNumberDetection *RollNumberDetection `json:"rollNumberDetection"`
	StudentMatching     *StudentMatch        `json:"studentMatching,omitempty"`
}

// SheetSummary is returned for each persisted upload
type SheetSummary struct {
	SheetID              string             `json:"sheetId"`
	ExamID               string             `json:"examId"`
	OriginalFileName     string             `json:"originalFileName"`
	FileURL              string             `json:"fileUrl"`
	Status               SheetStatus        `json:"status"`
	StudentID            string             `json:"studentId,omitempty"`
	StudentName          string             `json:"studentName,omitempty"`
	DetectedRollNumber   string             `json:"detectedRollNumber,omitempty"`
	RollNumberConfidence float64            `json:"rollNumberConfidence"`
	MatchConfidence      float64            `json:"matchConfidence"`
	ScanQuality          ScanQuality        `json:"scanQuality"`
	Alternatives         []StudentCandidate `json:"alternatives,omitempty"`
	Flags                []SheetFlag        `json:"flags"`
	UploadedAt           time.Time          `json:"uploadedAt"`
}

// UploadError records a batch item that could not be persisted
type UploadError struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// BatchUploadResult aggregates a multi-file upload
type BatchUploadResult struct {
	Results   []*SheetSummary `json:"results"`
	Errors    []UploadError   `json:"errors"`
	Matched   int             `json:"matched"`
	Unmatched int             `json:"unmatched"`
}

// ProcessResponse acknowledges an AI correction kickoff
type ProcessResponse struct {
	SheetID               string      `json:"sheetId"`
	Status                SheetStatus `json:"status"`
	EstimatedCompletionAt time.Time   `json:"estimatedCompletionAt"`
}
