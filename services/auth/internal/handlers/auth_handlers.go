package handlers

import (
	"net/http"

	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

// SignUp creates (or finds) the user and mails a passcode.
func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req domain.SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.auth.Register(r.Context(), &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Check your email for the access code",
	})
}

// SignIn mails a passcode to an existing user.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := signInRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := h.auth.RequestPasscode(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Check your email for the access code",
	})
}

// Verify redeems a passcode and sets both session cookies.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := h.auth.Verify(r.Context(), req.Email, req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, &res.TokenPair)
	writeJSON(w, http.StatusOK, res.User)
}

// SelectCompany swaps the current session for one scoped to a company. The
// presented refresh token is revoked first.
func (h *Handlers) SelectCompany(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)

	var req domain.SelectCompanyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if old := refreshCookie(r); old != "" {
		if err := h.sessions.Revoke(r.Context(), old); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	pair, user, err := h.auth.SelectTenant(r.Context(), req.CompanyID, claims.UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{
		"name":  user.Name,
		"email": user.Email,
	})
}

// Refresh rotates the refresh cookie. Any rejection clears both cookies so
// the browser falls back to signing in.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	value := refreshCookie(r)
	if value == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token not found", "UNAUTHORIZED")
		return
	}

	pair, err := h.sessions.Rotate(r.Context(), value)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnauthorized {
			h.clearSessionCookies(w)
		}
		writeServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SignOut revokes the presented refresh token and clears the cookies.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Revoke(r.Context(), refreshCookie(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.clearSessionCookies(w)
	logger.InfoContext(r.Context(), "User signed out")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// LogoutAll revokes every refresh token of the caller, across all companies.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)

	n, err := h.sessions.RevokeAllForUser(r.Context(), claims.UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"revoked": n,
	})
}
