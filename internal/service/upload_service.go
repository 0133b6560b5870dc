package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
	"gradeflow/internal/scan"
	"gradeflow/internal/storage"
)

// DefaultMaxUploadBytes caps a single uploaded file
const DefaultMaxUploadBytes int64 = 10 << 20

// UploadFile is one file received from a client. ReadErr is set by the
// transport when the part could not be read; batch uploads report it per file.
type UploadFile struct {
	FileName string
	Data     []byte
	ReadErr  error
}

// UploadService runs detection, matching and storage for uploaded sheets
type UploadService struct {
	roster     *RosterService
	matcher    *StudentMatcher
	detector   RollNumberDetector
	store      storage.ObjectStore
	sheets     repository.SheetRepo
	dispatcher *Dispatcher
	maxBytes   int64
	now        func() time.Time
}

// NewUploadService creates a new upload service
func NewUploadService(
	roster *RosterService,
	matcher *StudentMatcher,
	detector RollNumberDetector,
	store storage.ObjectStore,
	sheets repository.SheetRepo,
	dispatcher *Dispatcher,
	maxBytes int64,
) *UploadService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &UploadService{
		roster:     roster,
		matcher:    matcher,
		detector:   detector,
		store:      store,
		sheets:     sheets,
		dispatcher: dispatcher,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// validateFile rejects files that cannot be graded before any external call.
// Raster images are decoded here once and the page is reused by the detector.
func (s *UploadService) validateFile(f UploadFile) (*scan.Page, error) {
	if f.ReadErr != nil {
		var verr *ValidationError
		if errors.As(f.ReadErr, &verr) {
			return nil, f.ReadErr
		}
		return nil, NewValidationError("file", fmt.Sprintf("%s: %v", model.FlagCorruptedFile, f.ReadErr))
	}
	if len(f.Data) == 0 {
		return nil, NewValidationError("file", string(model.FlagCorruptedFile)+": file is empty")
	}
	if int64(len(f.Data)) > s.maxBytes {
		return nil, NewValidationError("file",
			fmt.Sprintf("%s: file is %d bytes, limit is %d", model.FlagSizeTooLarge, len(f.Data), s.maxBytes))
	}
	page, err := scan.Open(f.Data, f.FileName)
	switch {
	case err == nil:
		return page, nil
	case errors.Is(err, scan.ErrUnsupportedFormat):
		return nil, NewValidationError("file", string(model.FlagInvalidFormat)+": only PDF, JPEG, PNG and WebP are accepted")
	case errors.Is(err, scan.ErrTooLarge):
		return nil, NewValidationError("file",
			fmt.Sprintf("%s: %v, limit is %d pixels", model.FlagSizeTooLarge, err, scan.MaxPixels))
	}
	return nil, NewValidationError("file", fmt.Sprintf("%s: %v", model.FlagCorruptedFile, err))
}

// upload is the per-file state carried through the pipeline
type upload struct {
	exam      *model.Exam
	file      UploadFile
	page      *scan.Page
	uploader  string
	explicit  *model.Student
	detection *model.RollNumberDetection
	match     *model.StudentMatch
	student   *model.Student
	sheet     *model.AnswerSheet
}

// Upload stores one sheet. An explicit studentID skips matching and is rejected
// with ErrConflict when that student already has an active sheet.
func (s *UploadService) Upload(ctx context.Context, examID, uploaderID string, file UploadFile, studentID string) (*model.SheetSummary, error) {
	exam, err := s.roster.ExamForUser(ctx, uploaderID, examID)
	if err != nil {
		return nil, err
	}
	u, err := s.process(ctx, exam, uploaderID, file, studentID)
	if err != nil {
		return nil, err
	}

	if u.sheet.IsMatched() {
		s.dispatcher.SheetUploaded(ctx, u.sheet, u.student)
		s.dispatcher.UploadProcessed(ctx, u.sheet, u.student.Name)
	} else {
		s.dispatcher.SheetUnmatched(ctx, u.sheet)
	}
	return u.summary(), nil
}

// BatchUpload stores each file independently; per-file failures are collected, not fatal.
func (s *UploadService) BatchUpload(ctx context.Context, examID, uploaderID string, files []UploadFile) (*model.BatchUploadResult, error) {
	exam, err := s.roster.ExamForUser(ctx, uploaderID, examID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, NewValidationError("files", "at least one file is required")
	}

	result := &model.BatchUploadResult{
		Results: []*model.SheetSummary{},
		Errors:  []model.UploadError{},
	}
	for _, f := range files {
		u, err := s.process(ctx, exam, uploaderID, f, "")
		if err != nil {
			logger.Warnf("[Upload] batch item %s failed: %v", f.FileName, err)
			result.Errors = append(result.Errors, model.UploadError{FileName: f.FileName, Error: err.Error()})
			continue
		}
		if u.sheet.IsMatched() {
			result.Matched++
			s.dispatcher.SheetUploaded(ctx, u.sheet, u.student)
		} else {
			result.Unmatched++
		}
		result.Results = append(result.Results, u.summary())
	}

	logger.Infof("[Upload] batch for exam %s by %s: %d stored (%d matched, %d unmatched), %d failed",
		examID, uploaderID, len(result.Results), result.Matched, result.Unmatched, len(result.Errors))
	s.dispatcher.BatchProcessed(ctx, examID, uploaderID, result)
	return result, nil
}

// DetectAndMatch runs detection and matching without storing anything
func (s *UploadService) DetectAndMatch(ctx context.Context, examID, userID string, file UploadFile) (*model.DetectAndMatchResult, error) {
	exam, err := s.roster.ExamForUser(ctx, userID, examID)
	if err != nil {
		return nil, err
	}
	page, err := s.validateFile(file)
	if err != nil {
		return nil, err
	}

	res := &model.DetectAndMatchResult{RollNumberDetection: s.detector.Detect(ctx, page)}
	if res.RollNumberDetection.Found() {
		match, err := s.matcher.MatchExam(ctx, res.RollNumberDetection.RollNumber, exam, res.RollNumberDetection.Confidence)
		if err != nil {
			return nil, err
		}
		res.StudentMatching = match
	}
	return res, nil
}

func (s *UploadService) process(ctx context.Context, exam *model.Exam, uploaderID string, file UploadFile, studentID string) (*upload, error) {
	page, err := s.validateFile(file)
	if err != nil {
		return nil, err
	}
	u := &upload{exam: exam, file: file, page: page, uploader: uploaderID}

	if studentID != "" {
		if u.explicit, err = s.enrolledStudent(ctx, exam, studentID); err != nil {
			return nil, err
		}
		existing, err := s.sheets.FindActiveByStudent(ctx, exam.ID, studentID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("student %s already has sheet %s: %w", studentID, existing.ID, ErrConflict)
		}
	}

	u.detection = s.detector.Detect(ctx, page)
	if u.explicit == nil && u.detection.Found() {
		u.match, err = s.matcher.MatchExam(ctx, u.detection.RollNumber, exam, u.detection.Confidence)
		if err != nil {
			return nil, fmt.Errorf("match roll number: %w", err)
		}
	}

	if err := s.buildSheet(ctx, u); err != nil {
		return nil, err
	}

	obj, err := s.store.Store(ctx, file.Data, storageHint(exam.ID, file.FileName), page.Format.MIME())
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}
	u.sheet.FileURL = obj.URL
	u.sheet.StorageKey = obj.Key

	if err := s.persist(ctx, u); err != nil {
		if delErr := s.store.Delete(ctx, obj.Key); delErr != nil {
			logger.Warnf("[Upload] failed to remove orphaned object %s: %v", obj.Key, delErr)
		}
		return nil, err
	}

	logger.Infof("[Upload] sheet %s for exam %s stored as %s (roll %q, student %q)",
		u.sheet.ID, exam.ID, u.sheet.Status, u.sheet.DetectedRollNumber, u.sheet.StudentID)
	return u, nil
}

func (s *UploadService) enrolledStudent(ctx context.Context, exam *model.Exam, studentID string) (*model.Student, error) {
	student, err := s.roster.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.ClassID != exam.ClassID || !student.IsActive {
		return nil, NewValidationError("studentId", "student is not enrolled in the exam's class")
	}
	return student, nil
}

// buildSheet decides the initial student, flags and status of an upload
func (s *UploadService) buildSheet(ctx context.Context, u *upload) error {
	now := s.now()
	det := u.detection
	sheet := &model.AnswerSheet{
		ExamID:               u.exam.ID,
		UploadedBy:           u.uploader,
		OriginalFileName:     u.file.FileName,
		ContentType:          u.page.Format.MIME(),
		ContentHash:          ContentHash(u.file.Data),
		FileSize:             int64(len(u.file.Data)),
		Status:               model.SheetStatusUploaded,
		Language:             u.exam.Language,
		ScanQuality:          det.ImageQuality,
		IsAligned:            det.IsAligned,
		DetectedRollNumber:   det.RollNumber,
		RollNumberConfidence: math.Round(det.Confidence*10000) / 100,
		ManualOverrides:      []model.ManualOverride{},
		Flags:                []model.SheetFlag{},
		IsActive:             true,
		UploadedAt:           now,
	}
	u.sheet = sheet

	switch {
	case u.explicit != nil:
		sheet.StudentID = u.explicit.ID
		sheet.MatchConfidence = 1
		u.student = u.explicit

	case !det.Found():
		sheet.AddFlag(model.FlagUnmatchedRoll, model.SeverityCritical,
			"No roll number could be read from the sheet", now)

	case u.match == nil || u.match.Confidence == 0:
		sheet.AddFlag(model.FlagUnmatchedRoll, model.SeverityHigh,
			fmt.Sprintf("Detected roll number %s does not match any student in the class", det.RollNumber), now)

	case u.match.Confidence < AutoMatchThreshold:
		sheet.MatchConfidence = u.match.Confidence
		if u.match.MatchedStudent == nil {
			sheet.AddFlag(model.FlagUnmatchedRoll, model.SeverityMedium,
				fmt.Sprintf("Detected roll number %s only resembles roster entries (best similarity %.2f)",
					det.RollNumber, u.match.Confidence), now)
			break
		}
		if err := s.assignMatched(ctx, u); err != nil {
			return err
		}
		sheet.AddFlag(model.FlagManualReviewRequired, model.SeverityMedium,
			fmt.Sprintf("Roll number %s was read with low confidence (%.2f); confirm the student",
				det.RollNumber, u.match.Confidence), now)

	default:
		sheet.MatchConfidence = u.match.Confidence
		if err := s.assignMatched(ctx, u); err != nil {
			return err
		}
	}

	switch det.ImageQuality {
	case model.ScanQualityPoor:
		sheet.AddFlag(model.FlagPoorQuality, model.SeverityMedium, "Scan quality is poor", now)
	case model.ScanQualityUnreadable:
		sheet.AddFlag(model.FlagPoorQuality, model.SeverityHigh, "Scan could not be read", now)
	}
	if !det.IsAligned {
		sheet.AddFlag(model.FlagAlignmentIssue, model.SeverityLow, "Page appears rotated or skewed", now)
	}

	dup, err := s.sheets.FindActiveByContentHash(ctx, u.exam.ID, sheet.ContentHash)
	if err != nil {
		return err
	}
	if dup != nil {
		sheet.AddFlag(model.FlagDuplicateUpload, model.SeverityMedium,
			fmt.Sprintf("Identical file was already uploaded as sheet %s", dup.ID), now)
	}

	sheet.Reconcile()
	return nil
}

// assignMatched sets the auto-matched student unless they already have an active sheet,
// in which case the sheet is kept unmatched for review.
func (s *UploadService) assignMatched(ctx context.Context, u *upload) error {
	cand := u.match.MatchedStudent
	existing, err := s.sheets.FindActiveByStudent(ctx, u.exam.ID, cand.StudentID)
	if err != nil {
		return err
	}
	if existing != nil {
		u.sheet.AddFlag(model.FlagDuplicateUpload, model.SeverityHigh,
			fmt.Sprintf("Matched student %s (roll %s) already has active sheet %s", cand.Name, cand.RollNumber, existing.ID), s.now())
		return nil
	}
	student, err := s.roster.GetStudent(ctx, cand.StudentID)
	if err != nil {
		return err
	}
	u.sheet.StudentID = student.ID
	u.student = student
	return nil
}

// persist inserts the sheet. Losing the uniqueness race is a conflict for explicit
// uploads; auto-matched sheets fall back to unmatched.
func (s *UploadService) persist(ctx context.Context, u *upload) error {
	err := s.sheets.Create(ctx, u.sheet)
	if !errors.Is(err, repository.ErrDuplicateSheet) {
		return err
	}
	if u.explicit != nil || !u.sheet.IsMatched() {
		return fmt.Errorf("student already has an active sheet for this exam: %w", ErrConflict)
	}

	logger.Warnf("[Upload] student %s got a sheet concurrently; keeping %s unmatched", u.sheet.StudentID, u.file.FileName)
	u.sheet.AddFlag(model.FlagDuplicateUpload, model.SeverityHigh,
		fmt.Sprintf("Matched student %s already has an active sheet", u.student.Name), s.now())
	u.sheet.StudentID = ""
	u.student = nil
	u.sheet.Status = model.SheetStatusUploaded
	u.sheet.Reconcile()
	if err := s.sheets.Create(ctx, u.sheet); err != nil {
		return fmt.Errorf("create unmatched sheet: %w", err)
	}
	return nil
}

func (u *upload) summary() *model.SheetSummary {
	sum := &model.SheetSummary{
		SheetID:              u.sheet.ID,
		ExamID:               u.sheet.ExamID,
		OriginalFileName:     u.sheet.OriginalFileName,
		FileURL:              u.sheet.FileURL,
		Status:               u.sheet.Status,
		StudentID:            u.sheet.StudentID,
		DetectedRollNumber:   u.sheet.DetectedRollNumber,
		RollNumberConfidence: u.sheet.RollNumberConfidence,
		MatchConfidence:      u.sheet.MatchConfidence,
		ScanQuality:          u.sheet.ScanQuality,
		Flags:                u.sheet.Flags,
		UploadedAt:           u.sheet.UploadedAt,
	}
	if u.student != nil {
		sum.StudentName = u.student.Name
	}
	if u.match != nil {
		sum.Alternatives = u.match.Alternatives
	}
	return sum
}

func storageHint(examID, fileName string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	return fmt.Sprintf("answer-sheets/%s/%s", examID, name)
}
