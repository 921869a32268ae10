package handlers

import (
	"net/http"
	"time"

	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

func (h *Handlers) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.Cookie.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, pair *domain.TokenPair) {
	http.SetCookie(w, h.cookie(domain.AccessTokenCookie, pair.AccessToken, h.config.Auth.AccessTokenTTL))
	http.SetCookie(w, h.cookie(domain.RefreshTokenCookie, pair.RefreshToken, h.config.Auth.RefreshTokenTTL))
}

func (h *Handlers) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{domain.AccessTokenCookie, domain.RefreshTokenCookie} {
		c := h.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func refreshCookie(r *http.Request) string {
	if c, err := r.Cookie(domain.RefreshTokenCookie); err == nil {
		return c.Value
	}
	return ""
}
