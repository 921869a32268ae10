package domain

import (
	"strings"
	"time"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
)

type EmployeeInvitation struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	CompanyID string           `json:"company_id"`
	Role      string           `json:"role"`
	Token     string           `json:"-"`
	Status    InvitationStatus `json:"status"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// IsRedeemable reports whether the invitation can still be accepted. An
// invitation is still valid at the exact instant it expires.
func (i *EmployeeInvitation) IsRedeemable(now time.Time) bool {
	return i.Status == InvitationPending && !now.After(i.ExpiresAt)
}

type RegisterEmployeeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (r *RegisterEmployeeRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
}

func (r *RegisterEmployeeRequest) Validate() error {
	return (&SignUpRequest{Email: r.Email, Name: r.Name, Phone: r.Phone}).Validate()
}

func (r *RegisterEmployeeRequest) SignUp() *SignUpRequest {
	return &SignUpRequest{Email: r.Email, Name: r.Name, Phone: r.Phone}
}
