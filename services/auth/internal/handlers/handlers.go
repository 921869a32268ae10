package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/reservaja/pkg/auth"
	"github.com/diagnosis/reservaja/pkg/config"
	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
)

// Authenticator is the passcode and tenant-selection surface used by the
// handlers.
type Authenticator interface {
	Register(ctx context.Context, req *domain.SignUpRequest) (*domain.User, error)
	RequestPasscode(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) (*domain.LoginResult, error)
	SelectTenant(ctx context.Context, companyID, userID string) (*domain.TokenPair, *domain.User, error)
}

type Sessions interface {
	Rotate(ctx context.Context, value string) (*domain.TokenPair, error)
	Revoke(ctx context.Context, value string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

type Invitations interface {
	SendInvitation(ctx context.Context, req *domain.SendInvitationRequest, companyID string) (*domain.EmployeeInvitation, error)
	RegisterEmployee(ctx context.Context, req *domain.RegisterEmployeeRequest, token string) (*domain.User, error)
}

type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

type Handlers struct {
	auth          Authenticator
	sessions      Sessions
	invitations   Invitations
	tokens        TokenParser
	rateLimitRepo repository.RateLimitRepository
	config        *config.Config
}

func New(
	authService Authenticator,
	sessions Sessions,
	invitations Invitations,
	tokens TokenParser,
	rateLimitRepo repository.RateLimitRepository,
	config *config.Config,
) *Handlers {
	return &Handlers{
		auth:          authService,
		sessions:      sessions,
		invitations:   invitations,
		tokens:        tokens,
		rateLimitRepo: rateLimitRepo,
		config:        config,
	}
}

// Routes mounts the credential endpoints under /auth.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.SignUp)
		r.With(h.SigninRateLimit).Post("/signin", h.SignIn)
		r.Post("/verify", h.Verify)
		r.Post("/register-employee", h.RegisterEmployee)
		r.Post("/refresh", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Post("/select-company", h.SelectCompany)
			r.Post("/signout", h.SignOut)
			r.Post("/logout-all", h.LogoutAll)
			r.With(h.RequireTenantRole(domain.RoleOwner, domain.RoleManager)).
				Post("/send-invitation", h.SendInvitation)
		})
	})
}

type claimsKey struct{}

// RequireSession accepts an access token from the access_token cookie or,
// failing that, a Bearer header.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie(domain.AccessTokenCookie); err == nil {
			token = c.Value
		}
		if authHeader := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing access token", "UNAUTHORIZED")
			return
		}

		claims, err := h.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = logger.WithValue(ctx, logger.UserIDKey, claims.UserID())
		if claims.Scoped() {
			ctx = logger.WithValue(ctx, logger.CompanyIDKey, claims.CompanyID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTenantRole only admits tenant-scoped sessions holding one of roles.
func (h *Handlers) RequireTenantRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := getClaims(r)
			if claims == nil || !claims.Scoped() {
				writeError(w, http.StatusForbidden, "Select a company first", "FORBIDDEN")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN")
		})
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey{}).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	response := map[string]string{
		"error": message,
		"code":  code,
	}
	writeJSON(w, statusCode, response)
}

// writeServiceError maps a service failure onto a status code. Internal
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		writeError(w, http.StatusNotFound, domain.PublicMessage(err), "NOT_FOUND")
	case domain.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, domain.PublicMessage(err), "UNAUTHORIZED")
	case domain.KindConflict:
		writeError(w, http.StatusConflict, domain.PublicMessage(err), "CONFLICT")
	case domain.KindInvalid:
		writeError(w, http.StatusBadRequest, domain.PublicMessage(err), "INVALID_INPUT")
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
	}
}
