package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

// SigninRateLimit throttles passcode requests per email address. Store
// failures let the request through.
func (h *Handlers) SigninRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := signInRequest(r)
		if !ok || req.Email == "" || h.rateLimitRepo == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := "signin:" + req.Email
		allowed, err := h.rateLimitRepo.CheckRateLimit(r.Context(), key,
			h.config.Auth.SigninRateLimit, h.config.Auth.SigninRateWindow)
		if err != nil {
			logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", "RATE_LIMIT_EXCEEDED")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// signInRequest decodes the body and puts it back so the next reader sees it
// unchanged.
func signInRequest(r *http.Request) (*domain.SignInRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req domain.SignInRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, false
		}
	}
	req.Normalize()
	return &req, true
}
