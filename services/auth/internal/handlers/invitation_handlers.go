package handlers

import (
	"net/http"
	"time"

	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

// SendInvitation invites an employee into the caller's selected company.
func (h *Handlers) SendInvitation(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)

	var req domain.SendInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := h.invitations.SendInvitation(r.Context(), &req, claims.CompanyID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         inv.ID,
		"email":      inv.Email,
		"role":       inv.Role,
		"expires_at": inv.ExpiresAt.Format(time.RFC3339),
	})
}

// RegisterEmployee redeems the invitation token from the query string.
func (h *Handlers) RegisterEmployee(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if !domain.IsValidUUID(token) {
		writeError(w, http.StatusBadRequest, "Invalid invitation token", "INVALID_INPUT")
		return
	}

	var req domain.RegisterEmployeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.invitations.RegisterEmployee(r.Context(), &req, token); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Registration complete, sign in to continue",
	})
}
