package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

// maxSaveAttempts bounds optimistic read-modify-write retries
const maxSaveAttempts = 3

// errUnchanged lets a mutation report that nothing needs saving
var errUnchanged = errors.New("unchanged")

// SheetService owns answer sheet state transitions after upload
type SheetService struct {
	sheets     repository.SheetRepo
	roster     *RosterService
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewSheetService creates a new sheet service
func NewSheetService(sheets repository.SheetRepo, roster *RosterService, dispatcher *Dispatcher) *SheetService {
	return &SheetService{
		sheets:     sheets,
		roster:     roster,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// mutate loads the sheet, applies fn, reconciles and saves, retrying lost updates.
func (s *SheetService) mutate(ctx context.Context, id string, fn func(sheet *model.AnswerSheet) error) (*model.AnswerSheet, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		sheet, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(sheet); err != nil {
			if errors.Is(err, errUnchanged) {
				return sheet, nil
			}
			return nil, err
		}
		sheet.Reconcile()

		err = s.sheets.Save(ctx, sheet)
		switch {
		case err == nil:
			return sheet, nil
		case errors.Is(err, repository.ErrDuplicateSheet):
			return nil, fmt.Errorf("student already has an active sheet for this exam: %w", ErrConflict)
		case errors.Is(err, repository.ErrVersionConflict):
			logger.Debugf("[Sheets] lost update on %s (attempt %d/%d)", id, attempt, maxSaveAttempts)
			continue
		default:
			return nil, fmt.Errorf("save sheet %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("sheet %s kept changing, gave up after %d attempts: %w", id, maxSaveAttempts, ErrConflict)
}

// Get returns an active sheet
func (s *SheetService) Get(ctx context.Context, id string) (*model.AnswerSheet, error) {
	sheet, err := s.sheets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sheet == nil || !sheet.IsActive {
		return nil, notFound("answer sheet", id)
	}
	return sheet, nil
}

// List returns the active sheets matching filter
func (s *SheetService) List(ctx context.Context, filter repository.SheetFilter) ([]*model.AnswerSheet, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	sheets, err := s.sheets.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if sheets == nil {
		sheets = []*model.AnswerSheet{}
	}
	return sheets, nil
}

// Authorize loads a sheet and checks the user can access its exam's class
func (s *SheetService) Authorize(ctx context.Context, userID, sheetID string) (*model.AnswerSheet, error) {
	sheet, err := s.Get(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roster.ExamForUser(ctx, userID, sheet.ExamID); err != nil {
		return nil, err
	}
	return sheet, nil
}

// exceptionKind distinguishes the two exception markers
type exceptionKind int

const (
	exceptionMissing exceptionKind = iota
	exceptionAbsent
)

func (k exceptionKind) apply(sheet *model.AnswerSheet, reason string) {
	switch k {
	case exceptionMissing:
		sheet.Status = model.SheetStatusMissing
		sheet.IsMissing = true
		sheet.MissingReason = reason
	case exceptionAbsent:
		sheet.Status = model.SheetStatusAbsent
		sheet.IsAbsent = true
		sheet.AbsentReason = reason
	}
	sheet.AcknowledgedBy = ""
	sheet.AcknowledgedAt = nil
}

func (s *SheetService) notifyException(ctx context.Context, k exceptionKind, sheet *model.AnswerSheet, by string) {
	if k == exceptionMissing {
		s.dispatcher.SheetMissing(ctx, sheet, by)
		return
	}
	s.dispatcher.StudentAbsent(ctx, sheet, by)
}

func (s *SheetService) markException(ctx context.Context, k exceptionKind, sheetID, reason, by string) (*model.AnswerSheet, error) {
	reason = strings.TrimSpace(reason)
	sheet, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.IsTerminal() {
			return invalidState("sheet is already %s", sheet.Status)
		}
		if sheet.Status == model.SheetStatusProcessing {
			return invalidState("sheet is being processed")
		}
		k.apply(sheet, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyException(ctx, k, sheet, by)
	return sheet, nil
}

// MarkMissing marks an uploaded sheet as missing
func (s *SheetService) MarkMissing(ctx context.Context, sheetID, reason, by string) (*model.AnswerSheet, error) {
	return s.markException(ctx, exceptionMissing, sheetID, reason, by)
}

// MarkAbsent marks the sheet's student as absent
func (s *SheetService) MarkAbsent(ctx context.Context, sheetID, reason, by string) (*model.AnswerSheet, error) {
	return s.markException(ctx, exceptionAbsent, sheetID, reason, by)
}

// MarkStudentMissing marks a student's sheet missing, creating a stub when none was uploaded
func (s *SheetService) MarkStudentMissing(ctx context.Context, exam *model.Exam, studentID, reason, by string) (*model.AnswerSheet, error) {
	return s.markStudentException(ctx, exceptionMissing, exam, studentID, reason, by)
}

// MarkStudentAbsent marks a student absent, creating a stub when none was uploaded
func (s *SheetService) MarkStudentAbsent(ctx context.Context, exam *model.Exam, studentID, reason, by string) (*model.AnswerSheet, error) {
	return s.markStudentException(ctx, exceptionAbsent, exam, studentID, reason, by)
}

func (s *SheetService) markStudentException(ctx context.Context, k exceptionKind, exam *model.Exam, studentID, reason, by string) (*model.AnswerSheet, error) {
	student, err := s.roster.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.ClassID != exam.ClassID || !student.IsActive {
		return nil, NewValidationError("studentId", "student is not enrolled in the exam's class")
	}

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.sheets.FindActiveByStudent(ctx, exam.ID, studentID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.markException(ctx, k, existing.ID, reason, by)
		}

		now := s.now()
		stub := &model.AnswerSheet{
			ExamID:          exam.ID,
			StudentID:       studentID,
			UploadedBy:      by,
			Language:        exam.Language,
			MatchConfidence: 1,
			ManualOverrides: []model.ManualOverride{},
			Flags:           []model.SheetFlag{},
			IsActive:        true,
			UploadedAt:      now,
		}
		k.apply(stub, strings.TrimSpace(reason))
		err = s.sheets.Create(ctx, stub)
		if errors.Is(err, repository.ErrDuplicateSheet) {
			// A sheet for this student appeared meanwhile; mark that one instead.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create stub sheet: %w", err)
		}
		logger.Infof("[Sheets] created %s stub %s for student %s in exam %s", stub.Status, stub.ID, studentID, exam.ID)
		s.notifyException(ctx, k, stub, by)
		return stub, nil
	}
	return nil, fmt.Errorf("student %s: %w", studentID, ErrConflict)
}

// Acknowledge records that an admin has seen a missing or absent sheet.
// Acknowledging twice keeps the first acknowledgement.
func (s *SheetService) Acknowledge(ctx context.Context, sheetID, by string) (*model.AnswerSheet, error) {
	changed := false
	sheet, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if !sheet.IsMissing && !sheet.IsAbsent {
			return invalidState("only missing or absent sheets can be acknowledged")
		}
		if sheet.AcknowledgedAt != nil {
			return errUnchanged
		}
		now := s.now()
		sheet.AcknowledgedBy = by
		sheet.AcknowledgedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.dispatcher.AcknowledgeRelated(ctx, sheetRef(sheet), by, *sheet.AcknowledgedAt)
	}
	return sheet, nil
}

// ApplyAICorrection stores a correction result. Sheets with manual overrides stay
// MANUALLY_REVIEWED since the override ledger wins.
func (s *SheetService) ApplyAICorrection(ctx context.Context, sheetID string, correction *model.AICorrection) (*model.AnswerSheet, error) {
	if correction == nil {
		return nil, NewValidationError("aiCorrection", "correction result is required")
	}
	current, err := s.Get(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	exam, err := s.roster.GetExam(ctx, current.ExamID)
	if err != nil {
		return nil, err
	}
	c := *correction
	c.Questions = append([]model.QuestionResult(nil), correction.Questions...)
	normalizeCorrection(&c, exam)

	sheet, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		switch sheet.Status {
		case model.SheetStatusMissing, model.SheetStatusAbsent, model.SheetStatusCompleted:
			return invalidState("cannot apply a correction to a %s sheet", sheet.Status)
		}
		now := s.now()
		stored := c
		sheet.AICorrection = &stored
		sheet.ProcessedAt = &now
		sheet.ErrorMessage = ""
		if len(sheet.ManualOverrides) > 0 {
			sheet.Status = model.SheetStatusManuallyReviewed
		} else {
			sheet.Status = model.SheetStatusAICorrected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.AICorrectionCompleted(ctx, sheet)
	return sheet, nil
}

// AddManualOverride appends a teacher correction and moves the sheet to MANUALLY_REVIEWED.
// The stored AI result is left untouched.
func (s *SheetService) AddManualOverride(ctx context.Context, sheetID string, req *model.ManualOverrideRequest, by string) (*model.AnswerSheet, error) {
	current, err := s.Get(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	exam, err := s.roster.GetExam(ctx, current.ExamID)
	if err != nil {
		return nil, err
	}
	if len(exam.Questions) > 0 {
		q, ok := exam.Question(req.QuestionNumber)
		if !ok {
			return nil, NewValidationError("questionNumber", fmt.Sprintf("exam has no question %d", req.QuestionNumber))
		}
		if q.Marks > 0 && req.CorrectedMarks > q.Marks {
			return nil, NewValidationError("correctedMarks", fmt.Sprintf("question %d is worth at most %.2f", q.Number, q.Marks))
		}
	}

	var override model.ManualOverride
	sheet, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.Status == model.SheetStatusMissing || sheet.Status == model.SheetStatusAbsent {
			return invalidState("cannot override a %s sheet", sheet.Status)
		}
		override = model.ManualOverride{
			QuestionNumber:  req.QuestionNumber,
			CorrectedAnswer: req.CorrectedAnswer,
			CorrectedMarks:  req.CorrectedMarks,
			Reason:          strings.TrimSpace(req.Reason),
			CorrectedBy:     by,
			CorrectedAt:     s.now(),
		}
		sheet.ManualOverrides = append(sheet.ManualOverrides, override)
		sheet.Status = model.SheetStatusManuallyReviewed
		sheet.CompletedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.ManualOverrideAdded(ctx, sheet, override)
	return sheet, nil
}

// ResolveFlag resolves the flag at index. Resolving a resolved flag is a no-op.
func (s *SheetService) ResolveFlag(ctx context.Context, sheetID string, index int, by string) (*model.AnswerSheet, error) {
	return s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if index < 0 || index >= len(sheet.Flags) {
			return NewValidationError("index", fmt.Sprintf("sheet has %d flags", len(sheet.Flags)))
		}
		if sheet.Flags[index].Resolved {
			return errUnchanged
		}
		sheet.Flags[index].Resolve(by, s.now())
		return nil
	})
}

// AssignStudent manually matches a sheet and auto-resolves its unmatched-roll flags
func (s *SheetService) AssignStudent(ctx context.Context, sheetID, studentID, by string) (*model.AnswerSheet, error) {
	current, err := s.Get(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	exam, err := s.roster.GetExam(ctx, current.ExamID)
	if err != nil {
		return nil, err
	}
	student, err := s.roster.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.ClassID != exam.ClassID || !student.IsActive {
		return nil, NewValidationError("studentId", "student is not enrolled in the exam's class")
	}

	return s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.IsTerminal() {
			return invalidState("cannot reassign a %s sheet", sheet.Status)
		}
		if sheet.StudentID == studentID {
			return errUnchanged
		}
		now := s.now()
		sheet.StudentID = studentID
		sheet.MatchConfidence = 1
		sheet.ResolveFlags(model.FlagUnmatchedRoll, by, true, now)
		sheet.ResolveFlags(model.FlagManualReviewRequired, by, true, now)
		return nil
	})
}

// Complete closes grading of a sheet once it is graded and nothing blocks it
func (s *SheetService) Complete(ctx context.Context, sheetID, by string) (*model.AnswerSheet, error) {
	return s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.Status != model.SheetStatusAICorrected && sheet.Status != model.SheetStatusManuallyReviewed {
			return invalidState("a %s sheet cannot be completed", sheet.Status)
		}
		if !sheet.IsMatched() || model.HasBlockingFlags(sheet.Flags) {
			return invalidState("sheet has unresolved flags")
		}
		now := s.now()
		sheet.Status = model.SheetStatusCompleted
		sheet.CompletedAt = &now
		logger.Infof("[Sheets] sheet %s completed by %s", sheet.ID, by)
		return nil
	})
}

// Delete soft-deletes a sheet, freeing the student's slot for the exam
func (s *SheetService) Delete(ctx context.Context, sheetID, by string) error {
	_, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.Status == model.SheetStatusProcessing {
			return invalidState("sheet is being processed")
		}
		sheet.IsActive = false
		return nil
	})
	if err == nil {
		logger.Infof("[Sheets] sheet %s deleted by %s", sheetID, by)
	}
	return err
}

// priorRun is what startProcessing overwrote on the sheet
type priorRun struct {
	status       model.SheetStatus
	errorMessage string
}

// startProcessing moves a matched sheet to PROCESSING and returns what it replaced
func (s *SheetService) startProcessing(ctx context.Context, sheetID string) (*model.AnswerSheet, priorRun, error) {
	var prior priorRun
	sheet, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if !sheet.IsMatched() {
			return invalidState("sheet has no student yet")
		}
		switch sheet.Status {
		case model.SheetStatusUploaded, model.SheetStatusAICorrected, model.SheetStatusManuallyReviewed,
			model.SheetStatusFlagged, model.SheetStatusError:
		default:
			return invalidState("a %s sheet cannot be processed", sheet.Status)
		}
		if sheet.StorageKey == "" {
			return invalidState("sheet has no uploaded file")
		}
		prior = priorRun{status: sheet.Status, errorMessage: sheet.ErrorMessage}
		now := s.now()
		sheet.Status = model.SheetStatusProcessing
		sheet.ProcessingStartedAt = &now
		sheet.ErrorMessage = ""
		return nil
	})
	return sheet, prior, err
}

// revertProcessing undoes startProcessing when the task could not be queued
func (s *SheetService) revertProcessing(ctx context.Context, sheetID string, prior priorRun) error {
	_, err := s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.Status != model.SheetStatusProcessing {
			return errUnchanged
		}
		sheet.Status = prior.status
		sheet.ErrorMessage = prior.errorMessage
		sheet.ProcessingStartedAt = nil
		return nil
	})
	return err
}

// MarkError records a failed correction. Only sheets still PROCESSING move to ERROR;
// anything that moved on meanwhile keeps its status.
func (s *SheetService) MarkError(ctx context.Context, sheetID, reason string) (*model.AnswerSheet, error) {
	return s.mutate(ctx, sheetID, func(sheet *model.AnswerSheet) error {
		if sheet.Status != model.SheetStatusProcessing {
			return errUnchanged
		}
		sheet.Status = model.SheetStatusError
		sheet.ErrorMessage = reason
		return nil
	})
}
