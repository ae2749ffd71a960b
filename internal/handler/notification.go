package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// ListNotifications returns the caller's most recent notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	if !actor.IsUser() {
		writeProblem(w, http.StatusForbidden, "FORBIDDEN", "notifications are addressed to users")
		return
	}

	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	list, err := h.inbox.ListForUser(r.Context(), actor.UserID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, n := range list {
			encodeNotification(e, n)
		}
		e.ArrEnd()
	})
}
