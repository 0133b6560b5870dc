package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/model"
)

func TestNotificationInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewNotificationService(f.notifications)

	sum := f.upload(t, "a.pdf", "007", 0.9)
	_, err := f.sheets.MarkMissing(ctx, sum.SheetID, "lost", f.teacher.ID)
	require.NoError(t, err)

	inbox, err := svc.List(ctx, f.admin.ID, "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, inbox)
	id := f.notificationsOf(f.admin.ID, model.NotifSheetMissing)[0].ID

	read, err := svc.MarkRead(ctx, f.admin.ID, id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationRead, read.Status)
	require.NotNil(t, read.ReadAt)

	unread, err := svc.List(ctx, f.admin.ID, model.NotificationUnread, 10)
	require.NoError(t, err)
	for _, n := range unread {
		assert.NotEqual(t, id, n.ID)
	}

	acked, err := svc.Acknowledge(ctx, f.admin.ID, id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationAcknowledged, acked.Status)
	assert.Equal(t, f.admin.ID, acked.AcknowledgedBy)
	assert.Equal(t, *read.ReadAt, *acked.ReadAt)

	dismissed, err := svc.Dismiss(ctx, f.admin.ID, id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationDismissed, dismissed.Status)
}

func TestNotificationsAreScopedToRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewNotificationService(f.notifications)
	f.upload(t, "a.pdf", "007", 0.9)

	mine := f.notificationsOf(f.teacher.ID, model.NotifUploadProcessed)
	require.NotEmpty(t, mine)

	_, err := svc.MarkRead(ctx, f.outsider.ID, mine[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Dismiss(ctx, f.teacher.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.List(ctx, f.outsider.ID, "", 0)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestNotificationListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := NewNotificationService(f.notifications).List(context.Background(), f.admin.ID, "ARCHIVED", 0)
	assert.ErrorIs(t, err, ErrValidation)
}
