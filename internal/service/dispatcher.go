package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

// Mailer delivers a notification by email
type Mailer interface {
	Send(ctx context.Context, to *model.User, n *model.Notification) error
}

// Dispatcher turns sheet transitions into notifications. Delivery is best effort:
// failures are logged and never reach the caller.
type Dispatcher struct {
	notifications repository.NotificationRepo
	users         repository.UserRepo
	broadcaster   Broadcaster
	mailer        Mailer
	mailTimeout   time.Duration
}

// NewDispatcher creates a dispatcher. broadcaster and mailer may be nil.
func NewDispatcher(notifications repository.NotificationRepo, users repository.UserRepo, broadcaster Broadcaster, mailer Mailer) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		users:         users,
		broadcaster:   broadcaster,
		mailer:        mailer,
		mailTimeout:   15 * time.Second,
	}
}

// Notify persists n, pushes it to the recipient and emails it when urgent
func (d *Dispatcher) Notify(ctx context.Context, n *model.Notification) {
	if n.RecipientID == "" {
		return
	}
	n.Status = model.NotificationUnread
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := d.notifications.Create(ctx, n); err != nil {
		logger.Errorf("[Dispatcher] failed to store %s notification for %s: %v", n.Type, n.RecipientID, err)
		return
	}
	logger.Debugf("[Dispatcher] %s (%s) -> %s", n.Type, n.Priority, n.RecipientID)

	if d.broadcaster != nil {
		d.broadcaster.SendToUser(n.RecipientID, MsgNotification, n)
	}
	if d.mailer != nil && n.Priority.IsHigh() {
		go d.email(n)
	}
}

func (d *Dispatcher) email(n *model.Notification) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Dispatcher] PANIC while emailing %s: %v\n%s", n.ID, r, debug.Stack())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.mailTimeout)
	defer cancel()

	user, err := d.users.GetByID(ctx, n.RecipientID)
	if err != nil || user == nil || user.Email == "" {
		logger.Warnf("[Dispatcher] no email address for %s: %v", n.RecipientID, err)
		return
	}
	if err := d.mailer.Send(ctx, user, n); err != nil {
		logger.Errorf("[Dispatcher] email for notification %s failed: %v", n.ID, err)
	}
}

// supervisorsOf returns who oversees userID: the assigned supervisor, otherwise every admin.
func (d *Dispatcher) supervisorsOf(ctx context.Context, userID string) []string {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		logger.Warnf("[Dispatcher] lookup of %s failed: %v", userID, err)
	}
	if user != nil && user.SupervisorID != "" {
		return []string{user.SupervisorID}
	}

	admins, err := d.users.ListByRole(ctx, model.RoleSuperAdmin, model.RoleAdmin)
	if err != nil {
		logger.Warnf("[Dispatcher] admin lookup failed: %v", err)
		return nil
	}
	ids := make([]string, 0, len(admins))
	for _, a := range admins {
		if a.ID != userID {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func sheetRef(sheet *model.AnswerSheet) *model.EntityRef {
	return &model.EntityRef{Type: model.EntityAnswerSheet, ID: sheet.ID}
}

func sheetLabel(sheet *model.AnswerSheet) string {
	if sheet.OriginalFileName != "" {
		return sheet.OriginalFileName
	}
	return sheet.ID
}

// SheetUploaded tells the matched student their sheet arrived
func (d *Dispatcher) SheetUploaded(ctx context.Context, sheet *model.AnswerSheet, student *model.Student) {
	if student == nil || student.UserID == "" {
		return
	}
	d.Notify(ctx, &model.Notification{
		Type:        model.NotifSheetUploaded,
		Priority:    model.PriorityLow,
		Title:       "Answer sheet received",
		Message:     "Your answer sheet has been uploaded and is waiting to be graded.",
		RecipientID: student.UserID,
		Related:     sheetRef(sheet),
		Metadata:    map[string]interface{}{"examId": sheet.ExamID},
	})
}

// UploadProcessed tells the uploader a single upload was matched
func (d *Dispatcher) UploadProcessed(ctx context.Context, sheet *model.AnswerSheet, studentName string) {
	d.Notify(ctx, &model.Notification{
		Type:        model.NotifUploadProcessed,
		Priority:    model.PriorityLow,
		Title:       "Answer sheet processed",
		Message:     fmt.Sprintf("%s was matched to %s.", sheetLabel(sheet), studentName),
		RecipientID: sheet.UploadedBy,
		Related:     sheetRef(sheet),
		Metadata: map[string]interface{}{
			"examId":          sheet.ExamID,
			"studentId":       sheet.StudentID,
			"matchConfidence": sheet.MatchConfidence,
		},
	})
}

// SheetUnmatched asks the uploader and their supervisor to resolve a single unmatched upload
func (d *Dispatcher) SheetUnmatched(ctx context.Context, sheet *model.AnswerSheet) {
	msg := fmt.Sprintf("%s could not be matched to a student", sheetLabel(sheet))
	if sheet.DetectedRollNumber != "" {
		msg += fmt.Sprintf(" (detected roll number %s)", sheet.DetectedRollNumber)
	}
	msg += ". Manual review is required."

	recipients := append([]string{sheet.UploadedBy}, d.supervisorsOf(ctx, sheet.UploadedBy)...)
	for _, id := range recipients {
		d.Notify(ctx, &model.Notification{
			Type:        model.NotifSheetUnmatched,
			Priority:    model.PriorityMedium,
			Title:       "Unmatched answer sheet",
			Message:     msg,
			RecipientID: id,
			Related:     sheetRef(sheet),
			Metadata: map[string]interface{}{
				"examId":             sheet.ExamID,
				"detectedRollNumber": sheet.DetectedRollNumber,
				"uploadedBy":         sheet.UploadedBy,
			},
		})
	}
}

// BatchProcessed summarizes a batch upload for the uploader and reports the
// unmatched files to the uploader's supervisor.
func (d *Dispatcher) BatchProcessed(ctx context.Context, examID, uploaderID string, result *model.BatchUploadResult) {
	d.Notify(ctx, &model.Notification{
		Type:     model.NotifUploadProcessed,
		Priority: model.PriorityLow,
		Title:    "Batch upload processed",
		Message: fmt.Sprintf("%d sheets stored: %d matched, %d need review, %d failed.",
			len(result.Results), result.Matched, result.Unmatched, len(result.Errors)),
		RecipientID: uploaderID,
		Related:     &model.EntityRef{Type: model.EntityExam, ID: examID},
		Metadata: map[string]interface{}{
			"matched":   result.Matched,
			"unmatched": result.Unmatched,
			"failed":    len(result.Errors),
		},
	})

	if result.Unmatched == 0 {
		return
	}
	var unmatched []map[string]interface{}
	for _, r := range result.Results {
		if r.StudentID != "" {
			continue
		}
		unmatched = append(unmatched, map[string]interface{}{
			"sheetId":            r.SheetID,
			"fileName":           r.OriginalFileName,
			"detectedRollNumber": r.DetectedRollNumber,
		})
	}
	for _, id := range d.supervisorsOf(ctx, uploaderID) {
		d.Notify(ctx, &model.Notification{
			Type:        model.NotifBatchUnmatched,
			Priority:    model.PriorityMedium,
			Title:       "Unmatched sheets in batch upload",
			Message:     fmt.Sprintf("%d uploaded sheets could not be matched to students.", result.Unmatched),
			RecipientID: id,
			Related:     &model.EntityRef{Type: model.EntityExam, ID: examID},
			Metadata: map[string]interface{}{
				"uploadedBy":      uploaderID,
				"unmatchedSheets": unmatched,
			},
		})
	}
}

// AICorrectionCompleted tells the uploader grading finished
func (d *Dispatcher) AICorrectionCompleted(ctx context.Context, sheet *model.AnswerSheet) {
	meta := map[string]interface{}{"examId": sheet.ExamID}
	if sheet.AICorrection != nil {
		meta["percentage"] = sheet.AICorrection.Percentage
		meta["confidence"] = sheet.AICorrection.Confidence
	}
	d.Notify(ctx, &model.Notification{
		Type:        model.NotifAICorrectionCompleted,
		Priority:    model.PriorityMedium,
		Title:       "AI correction completed",
		Message:     fmt.Sprintf("AI grading of %s is ready for review.", sheetLabel(sheet)),
		RecipientID: sheet.UploadedBy,
		Related:     sheetRef(sheet),
		Metadata:    meta,
	})
}

// AICorrectionFailed tells the uploader grading failed and needs a re-trigger
func (d *Dispatcher) AICorrectionFailed(ctx context.Context, sheet *model.AnswerSheet, reason string) {
	d.Notify(ctx, &model.Notification{
		Type:        model.NotifAICorrectionFailed,
		Priority:    model.PriorityHigh,
		Title:       "AI correction failed",
		Message:     fmt.Sprintf("AI grading of %s failed: %s", sheetLabel(sheet), reason),
		RecipientID: sheet.UploadedBy,
		Related:     sheetRef(sheet),
		Metadata:    map[string]interface{}{"examId": sheet.ExamID, "error": reason},
	})
}

// ManualOverrideAdded tells the uploader that someone else corrected their sheet
func (d *Dispatcher) ManualOverrideAdded(ctx context.Context, sheet *model.AnswerSheet, o model.ManualOverride) {
	if o.CorrectedBy == sheet.UploadedBy {
		return
	}
	d.Notify(ctx, &model.Notification{
		Type:        model.NotifManualOverrideAdded,
		Priority:    model.PriorityLow,
		Title:       "Manual correction added",
		Message:     fmt.Sprintf("Question %d of %s was corrected to %.2f marks.", o.QuestionNumber, sheetLabel(sheet), o.CorrectedMarks),
		RecipientID: sheet.UploadedBy,
		Related:     sheetRef(sheet),
		Metadata: map[string]interface{}{
			"questionNumber": o.QuestionNumber,
			"correctedMarks": o.CorrectedMarks,
			"correctedBy":    o.CorrectedBy,
		},
	})
}

// SheetMissing alerts the marker's supervisor about a missing sheet
func (d *Dispatcher) SheetMissing(ctx context.Context, sheet *model.AnswerSheet, markedBy string) {
	for _, id := range d.supervisorsOf(ctx, markedBy) {
		d.Notify(ctx, &model.Notification{
			Type:        model.NotifSheetMissing,
			Priority:    model.PriorityHigh,
			Title:       "Answer sheet missing",
			Message:     fmt.Sprintf("An answer sheet was reported missing: %s", sheet.MissingReason),
			RecipientID: id,
			Related:     sheetRef(sheet),
			Metadata: map[string]interface{}{
				"examId":    sheet.ExamID,
				"studentId": sheet.StudentID,
				"markedBy":  markedBy,
			},
		})
	}
}

// StudentAbsent alerts the marker's supervisor about an absent student
func (d *Dispatcher) StudentAbsent(ctx context.Context, sheet *model.AnswerSheet, markedBy string) {
	for _, id := range d.supervisorsOf(ctx, markedBy) {
		d.Notify(ctx, &model.Notification{
			Type:        model.NotifStudentAbsent,
			Priority:    model.PriorityMedium,
			Title:       "Student absent",
			Message:     fmt.Sprintf("A student was marked absent: %s", sheet.AbsentReason),
			RecipientID: id,
			Related:     sheetRef(sheet),
			Metadata: map[string]interface{}{
				"examId":    sheet.ExamID,
				"studentId": sheet.StudentID,
				"markedBy":  markedBy,
			},
		})
	}
}

// AcknowledgeRelated marks every notification about ref as acknowledged
func (d *Dispatcher) AcknowledgeRelated(ctx context.Context, ref *model.EntityRef, by string, at time.Time) {
	n, err := d.notifications.AcknowledgeByEntity(ctx, *ref, by, at)
	if err != nil {
		logger.Warnf("[Dispatcher] failed to acknowledge notifications for %s %s: %v", ref.Type, ref.ID, err)
		return
	}
	logger.Debugf("[Dispatcher] acknowledged %d notifications for %s %s", n, ref.Type, ref.ID)
}
