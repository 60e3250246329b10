package httpapi

import (
	"errors"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/gorilla/mux"
)

const forgotPasswordMessage = "If the email exists, a password reset link has been sent"

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.engine.Register(r.Context(), goSession.RegisterRequest{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if errors.Is(err, goSession.ErrAccountExists) {
		msg := "Email is already in use"
		if strings.Contains(err.Error(), "username") {
			msg = "Username is already taken"
		}
		fail(w, http.StatusBadRequest, msg)
		return
	}
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, body{
		"success":   true,
		"message":   "User registered successfully. Please check your email to verify your account.",
		"emailSent": h.engine.Config().Account.SendVerificationOnRegister,
		"user":      newUserResponse(p),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	p, sid, err := h.engine.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	middleware.SetSessionCookie(w, h.engine, sid)
	writeJSON(w, http.StatusOK, body{
		"success":   true,
		"message":   "Login successful",
		"sessionId": sid,
		"user":      newUserResponse(p),
	})
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if desc, ok := middleware.SessionFromContext(r.Context()); ok {
		if err := h.engine.Logout(r.Context(), desc.ID); err != nil {
			h.engineError(w, r, err)
			return
		}
	}
	middleware.ClearSessionCookie(w, h.engine)
	writeJSON(w, http.StatusOK, body{"success": true, "message": "Logout successful"})
}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, body{
		"success":       true,
		"authenticated": true,
		"user":          newUserResponse(principal(r)),
	})
}

func (h *Handlers) sessionInfo(w http.ResponseWriter, r *http.Request) {
	desc, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		fail(w, http.StatusUnauthorized, "No active session")
		return
	}
	resp := body{
		"success":             true,
		"sessionId":           desc.ID,
		"creationTime":        desc.CreatedAt,
		"lastAccessedTime":    desc.LastRequestAt,
		"maxInactiveInterval": int(h.engine.Config().Session.MaxInactiveInterval.Seconds()),
	}
	if p := principal(r); p != nil {
		resp["user"] = newUserResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) activeSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListActiveSessions(r.Context(), principal(r).ID)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body{
		"success":        true,
		"activeSessions": len(sessions),
		"sessions":       sessions,
	})
}

func (h *Handlers) invalidateOwnSession(w http.ResponseWriter, r *http.Request) {
	h.invalidate(w, r, principal(r).ID)
}

func (h *Handlers) invalidate(w http.ResponseWriter, r *http.Request, requesterID string) {
	ok, err := h.engine.InvalidateSession(r.Context(), mux.Vars(r)["id"], requesterID)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	if !ok {
		// denials and unknown ids answer alike
		fail(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, body{"success": true, "message": "Session invalidated successfully"})
}

func (h *Handlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.VerifyEmail(r.Context(), r.FormValue("token"))
	h.consumeResponse(w, r, res, err)
}

func (h *Handlers) verifyEmailChange(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ConfirmEmailChange(r.Context(), r.FormValue("token"))
	h.consumeResponse(w, r, res, err)
}

func (h *Handlers) consumeResponse(w http.ResponseWriter, r *http.Request, res goSession.ConsumeResult, err error) {
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, body{"success": res.Success, "message": res.Message})
}

func (h *Handlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.EmailVerified {
		fail(w, http.StatusBadRequest, "Email is already verified")
		return
	}
	sent, err := h.engine.SendEmailVerification(r.Context(), p.ID)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	msg := "Verification email sent successfully"
	if !sent {
		msg = "Failed to send verification email or rate limit exceeded"
	}
	writeJSON(w, http.StatusOK, body{"success": sent, "message": msg})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	// unknown addresses and refusals get the same answer; only backend
	// failures differ
	if _, err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body{"success": true, "message": forgotPasswordMessage})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.ResetPassword(r.Context(), req.Token, req.NewPassword)
	h.consumeResponse(w, r, res, err)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		fail(w, http.StatusBadRequest, "Current password and new password are required")
		return
	}
	desc, _ := middleware.SessionFromContext(r.Context())
	err := h.engine.ChangePassword(r.Context(), goSession.ChangePasswordRequest{
		PrincipalID:     principal(r).ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		SessionID:       desc.ID,
	})
	switch {
	case errors.Is(err, goSession.ErrInvalidCredentials):
		fail(w, http.StatusBadRequest, "Current password is incorrect")
	case errors.Is(err, goSession.ErrPasswordReuse):
		fail(w, http.StatusBadRequest, "New password must differ from the current password")
	case err != nil:
		h.engineError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, body{"success": true, "message": "Password changed successfully"})
	}
}

func (h *Handlers) changeEmail(w http.ResponseWriter, r *http.Request) {
	newEmail := r.FormValue("newEmail")
	if newEmail == "" {
		fail(w, http.StatusBadRequest, "newEmail is required")
		return
	}
	sent, err := h.engine.RequestEmailChange(r.Context(), principal(r).ID, newEmail)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	msg := "Email change verification sent to new email address"
	if !sent {
		msg = "Failed to send email change verification or rate limit exceeded"
	}
	writeJSON(w, http.StatusOK, body{"success": sent, "message": msg})
}
