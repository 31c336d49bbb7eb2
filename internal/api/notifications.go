package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/models/entities"
)

type notificationsResponse struct {
	Notifications []entities.Notification `json:"notifications"`
}

// ListNotifications handles GET /api/v1/notifications[?unread=true]
func (h *Handlers) ListNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"

		list, err := h.deps.Services.Notifications.ListForUser(r.Context(), user.ID, unreadOnly)
		if err != nil {
			logging.Error("Failed to list notifications", "user_id", user.ID, "error", err)
			common.RespondError(w, http.StatusInternalServerError, "Failed to list notifications")
			return
		}
		common.RespondSuccess(w, http.StatusOK, &notificationsResponse{Notifications: list})
	}
}

// MarkNotificationRead handles POST /api/v1/notifications/{notificationID}/read
func (h *Handlers) MarkNotificationRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		err := h.deps.Services.Notifications.MarkRead(r.Context(), user.ID, chi.URLParam(r, "notificationID"))
		if err != nil {
			if errors.Is(err, repositories.ErrDocumentNotFound) {
				common.RespondError(w, http.StatusNotFound, "Notification not found")
				return
			}
			logging.Error("Failed to mark notification read", "user_id", user.ID, "error", err)
			common.RespondError(w, http.StatusInternalServerError, "Failed to update notification")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
