package service

import (
	"context"
	"time"

	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

const defaultNotificationLimit = 50

// NotificationService is the recipient's view of their notifications
type NotificationService struct {
	notifications repository.NotificationRepo
	now           func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(notifications repository.NotificationRepo) *NotificationService {
	return &NotificationService{notifications: notifications, now: time.Now}
}

// List returns userID's notifications, newest first, optionally by status
func (s *NotificationService) List(ctx context.Context, userID string, status model.NotificationStatus, limit int64) ([]*model.Notification, error) {
	if status != "" {
		switch status {
		case model.NotificationUnread, model.NotificationRead, model.NotificationAcknowledged, model.NotificationDismissed:
		default:
			return nil, NewValidationError("status", "unknown notification status")
		}
	}
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	list, err := s.notifications.ListByRecipient(ctx, userID, status, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*model.Notification{}
	}
	return list, nil
}

// MarkRead moves an unread notification to READ
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	return s.update(ctx, userID, id, func(n *model.Notification, now time.Time) {
		if n.Status != model.NotificationUnread {
			return
		}
		n.Status = model.NotificationRead
		n.ReadAt = &now
	})
}

// Acknowledge marks a notification as handled
func (s *NotificationService) Acknowledge(ctx context.Context, userID, id string) (*model.Notification, error) {
	return s.update(ctx, userID, id, func(n *model.Notification, now time.Time) {
		if n.Status == model.NotificationAcknowledged {
			return
		}
		if n.ReadAt == nil {
			n.ReadAt = &now
		}
		n.Status = model.NotificationAcknowledged
		n.AcknowledgedAt = &now
		n.AcknowledgedBy = userID
	})
}

// Dismiss hides a notification from the recipient's inbox
func (s *NotificationService) Dismiss(ctx context.Context, userID, id string) (*model.Notification, error) {
	return s.update(ctx, userID, id, func(n *model.Notification, now time.Time) {
		if n.Status == model.NotificationDismissed {
			return
		}
		n.Status = model.NotificationDismissed
		n.DismissedAt = &now
	})
}

// update loads a notification owned by userID; other users' notifications read as not found
func (s *NotificationService) update(ctx context.Context, userID, id string, fn func(n *model.Notification, now time.Time)) (*model.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil || n.RecipientID != userID {
		return nil, notFound("notification", id)
	}

	before := n.Status
	fn(n, s.now())
	if n.Status == before {
		return n, nil
	}
	if err := s.notifications.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}
