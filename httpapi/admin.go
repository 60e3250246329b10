package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
)

func (h *Handlers) allSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListAllActiveSessions(r.Context(), principal(r).ID)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body{
		"success":       true,
		"totalSessions": len(sessions),
		"sessions":      sessions,
	})
}

func (h *Handlers) adminInvalidateSession(w http.ResponseWriter, r *http.Request) {
	h.invalidate(w, r, principal(r).ID)
}

func (h *Handlers) disableUser(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.engine.DisableAccount, "User disabled successfully")
}

func (h *Handlers) enableUser(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.engine.EnableAccount, "User enabled successfully")
}

func (h *Handlers) lockUser(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.engine.LockAccount, "User account locked successfully")
}

func (h *Handlers) unlockUser(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.engine.UnlockAccount, "User account unlocked successfully")
}

// changeStatus runs an admin account operation and answers with the
// updated user.
func (h *Handlers) changeStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, requesterID, principalID string) error, msg string) {
	id := mux.Vars(r)["id"]
	if err := op(r.Context(), principal(r).ID, id); err != nil {
		h.engineError(w, r, err)
		return
	}
	p, err := h.engine.Me(r.Context(), id)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body{"success": true, "message": msg, "user": newUserResponse(p)})
}
