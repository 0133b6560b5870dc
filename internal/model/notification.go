package model

import "time"

// NotificationType identifies the trigger behind a notification
type NotificationType string

const (
	NotifSheetUploaded         NotificationType = "ANSWER_SHEET_UPLOADED"
	NotifSheetUnmatched        NotificationType = "ANSWER_SHEET_UNMATCHED"
	NotifUploadProcessed       NotificationType = "ANSWER_SHEET_PROCESSED"
	NotifBatchUnmatched        NotificationType = "BATCH_UNMATCHED_SHEETS"
	NotifAICorrectionCompleted NotificationType = "AI_CORRECTION_COMPLETED"
	NotifAICorrectionFailed    NotificationType = "AI_CORRECTION_FAILED"
	NotifManualOverrideAdded   NotificationType = "MANUAL_OVERRIDE_ADDED"
	NotifSheetMissing          NotificationType = "ANSWER_SHEET_MISSING"
	NotifStudentAbsent         NotificationType = "STUDENT_ABSENT"
)

// NotificationPriority orders notifications by urgency
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "LOW"
	PriorityMedium NotificationPriority = "MEDIUM"
	PriorityHigh   NotificationPriority = "HIGH"
	PriorityUrgent NotificationPriority = "URGENT"
)

// IsHigh reports whether the priority warrants an out-of-band channel
func (p NotificationPriority) IsHigh() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// NotificationStatus tracks what the recipient did with a notification
type NotificationStatus string

const (
	NotificationUnread       NotificationStatus = "UNREAD"
	NotificationRead         NotificationStatus = "READ"
	NotificationAcknowledged NotificationStatus = "ACKNOWLEDGED"
	NotificationDismissed    NotificationStatus = "DISMISSED"
)

// EntityRef points a notification at the record it is about
type EntityRef struct {
	Type string `json:"type" bson:"type"` // e.g. "answer_sheet", "exam"
	ID   string `json:"id" bson:"id"`
}

// Entity types referenced by notifications
const (
	EntityAnswerSheet = "answer_sheet"
	EntityExam        = "exam"
)

// Notification is a message delivered to one recipient
type Notification struct {
	ID             string                 `json:"id" bson:"_id,omitempty"`
	Type           NotificationType       `json:"type" bson:"type"`
	Priority       NotificationPriority   `json:"priority" bson:"priority"`
	Title          string                 `json:"title" bson:"title"`
	Message        string                 `json:"message" bson:"message"`
	RecipientID    string                 `json:"recipientId" bson:"recipientId"`
	Related        *EntityRef             `json:"related,omitempty" bson:"related,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Status         NotificationStatus     `json:"status" bson:"status"`
	CreatedAt      time.Time              `json:"createdAt" bson:"createdAt"`
	ReadAt         *time.Time             `json:"readAt,omitempty" bson:"readAt,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledgedAt,omitempty" bson:"acknowledgedAt,omitempty"`
	AcknowledgedBy string                 `json:"acknowledgedBy,omitempty" bson:"acknowledgedBy,omitempty"`
	DismissedAt    *time.Time             `json:"dismissedAt,omitempty" bson:"dismissedAt,omitempty"`
}
