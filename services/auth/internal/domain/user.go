package domain

import (
	"regexp"
	"strings"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Employee roles
const (
	RoleOwner   = "OWNER"
	RoleManager = "MANAGER"
	RoleRegular = "REGULAR"
)

var validRoles = map[string]bool{
	RoleOwner:   true,
	RoleManager: true,
	RoleRegular: true,
}

func IsValidRole(role string) bool {
	return validRoles[role]
}

// Membership is an employee row joined with the company it belongs to.
type Membership struct {
	UserID      string `json:"user_id"`
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name"`
	Role        string `json:"role"`
}

type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CompanySummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserPayload is returned to the browser after a successful passcode check.
type UserPayload struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	IsEmployee bool             `json:"isEmployee"`
	Companies  []CompanySummary `json:"companies"`
}

func NewUserPayload(u *User, memberships []Membership) *UserPayload {
	companies := make([]CompanySummary, 0, len(memberships))
	for _, m := range memberships {
		companies = append(companies, CompanySummary{ID: m.CompanyID, Name: m.CompanyName})
	}
	return &UserPayload{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		IsEmployee: len(memberships) > 0,
		Companies:  companies,
	}
}

type SignUpRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type SignInRequest struct {
	Email string `json:"email"`
}

type VerifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type SelectCompanyRequest struct {
	CompanyID string `json:"companyId"`
}

type SendInvitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Validation methods
func (r *SignUpRequest) Validate() error {
	if r.Email == "" {
		return Invalid("email is required")
	}
	if !IsValidEmail(r.Email) {
		return Invalid("invalid email format")
	}
	if r.Name == "" {
		return Invalid("name is required")
	}
	if r.Phone != "" && !isValidPhone(r.Phone) {
		return Invalid("invalid phone format")
	}
	return nil
}

func (r *SignInRequest) Validate() error {
	if !IsValidEmail(r.Email) {
		return Invalid("invalid email format")
	}
	return nil
}

func (r *VerifyRequest) Validate() error {
	if !IsValidEmail(r.Email) {
		return Invalid("invalid email format")
	}
	if !passcodeRegex.MatchString(r.Token) {
		return Invalid("token must be 6 digits")
	}
	return nil
}

func (r *SelectCompanyRequest) Validate() error {
	if !IsValidUUID(r.CompanyID) {
		return Invalid("companyId must be a valid id")
	}
	return nil
}

func (r *SendInvitationRequest) Validate() error {
	if !IsValidEmail(r.Email) {
		return Invalid("invalid email format")
	}
	if !IsValidRole(r.Role) {
		return Invalid("invalid role")
	}
	return nil
}

// Normalize methods
func (r *SignUpRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
}

func (r *SignInRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

func (r *VerifyRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Token = strings.TrimSpace(r.Token)
}

func (r *SelectCompanyRequest) Normalize() {
	r.CompanyID = strings.ToLower(strings.TrimSpace(r.CompanyID))
}

func (r *SendInvitationRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = RoleRegular
	}
}

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegex    = regexp.MustCompile(`^[\+]?[\d\s\-\(\)]+$`)
	passcodeRegex = regexp.MustCompile(`^\d{6}$`)
	uuidRegex     = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

func IsValidUUID(s string) bool {
	return uuidRegex.MatchString(strings.ToLower(s))
}

func isValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone) && len(phone) >= 7
}
