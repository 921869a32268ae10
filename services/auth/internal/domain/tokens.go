package domain

import "time"

// Lifetimes used when configuration does not override them.
const (
	PasscodeMin        = 100000
	PasscodeMax        = 999999
	PasscodeTTL        = 15 * time.Minute
	RefreshTokenTTL    = 30 * 24 * time.Hour
	InvitationTTL      = 7 * 24 * time.Hour
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// OneTimeToken is a hashed email passcode. The plaintext is never stored.
type OneTimeToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (t *OneTimeToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TenantScope narrows a session to one company and the role held there.
type TenantScope struct {
	CompanyID string `json:"companyId"`
	Role      string `json:"role"`
}

type TokenState string

const (
	TokenActive  TokenState = "ACTIVE"
	TokenUsed    TokenState = "USED"
	TokenRevoked TokenState = "REVOKED"
	TokenExpired TokenState = "EXPIRED"
)

// RefreshToken is one link of a session family. At most one token per family
// is ACTIVE; rotation marks it USED and appends a successor.
type RefreshToken struct {
	ID        string
	Token     string
	UserID    string
	FamilyID  string
	CompanyID *string
	Role      *string
	ExpiresAt time.Time
	IsUsed    bool
	IsRevoked bool
	CreatedAt time.Time
}

// State resolves the flags in precedence order: revoked, expired, used.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.IsRevoked:
		return TokenRevoked
	case now.After(t.ExpiresAt):
		return TokenExpired
	case t.IsUsed:
		return TokenUsed
	default:
		return TokenActive
	}
}

// Scope returns the tenant scope stored on the token, or nil for a generic
// session. Both fields must be present.
func (t *RefreshToken) Scope() *TenantScope {
	if t.CompanyID == nil || t.Role == nil || *t.CompanyID == "" || *t.Role == "" {
		return nil
	}
	return &TenantScope{CompanyID: *t.CompanyID, Role: *t.Role}
}

// TokenPair is what a successful login, tenant selection or rotation yields.
type TokenPair struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

type LoginResult struct {
	TokenPair
	User *UserPayload
}
