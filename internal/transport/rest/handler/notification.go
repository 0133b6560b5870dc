package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"gradeflow/internal/model"
	"gradeflow/internal/service"
	"gradeflow/internal/transport/rest/middleware"
)

// NotificationHandler handles the caller's notification inbox
type NotificationHandler struct {
	notificationSvc *service.NotificationService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notificationSvc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationSvc: notificationSvc}
}

// List handles GET /v1/notifications?status=&limit=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var limit int64
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeServiceError(w, service.NewValidationError("limit", "must be an integer"))
			return
		}
		limit = n
	}

	list, err := h.notificationSvc.List(r.Context(), middleware.GetUserID(r.Context()), model.NotificationStatus(q.Get("status")), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.notificationSvc.MarkRead)
}

// Acknowledge handles POST /v1/notifications/{id}/acknowledge
func (h *NotificationHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.notificationSvc.Acknowledge)
}

// Dismiss handles POST /v1/notifications/{id}/dismiss
func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.notificationSvc.Dismiss)
}

func (h *NotificationHandler) update(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, userID, id string) (*model.Notification, error)) {
	n, err := fn(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
