package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/diagnosis/reservaja/pkg/auth"
	"github.com/diagnosis/reservaja/pkg/events"
	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
)

// Rotation failures. All of them are unauthorized; the messages tell the
// client which one happened.
var (
	ErrRefreshInvalid = domain.Unauthorized("invalid refresh token")
	ErrRefreshRevoked = domain.Unauthorized("token revoked")
	ErrRefreshExpired = domain.Unauthorized("token expired")
	ErrRefreshReused  = domain.Unauthorized("refresh token reuse detected, all sessions in this family were ended")
)

// TokenSigner mints access tokens.
type TokenSigner interface {
	Sign(claims auth.Claims) (string, error)
}

// RefreshService owns refresh-token families: creation, single-use rotation,
// reuse detection and revocation.
type RefreshService struct {
	tokens    repository.RefreshTokenRepository
	passcodes repository.PasscodeRepository
	users     repository.UserRepository
	signer    TokenSigner
	events    events.Publisher
	ttl       time.Duration
	now       func() time.Time
}

func NewRefreshService(
	tokens repository.RefreshTokenRepository,
	passcodes repository.PasscodeRepository,
	users repository.UserRepository,
	signer TokenSigner,
	publisher events.Publisher,
	ttl time.Duration,
) *RefreshService {
	if ttl <= 0 {
		ttl = domain.RefreshTokenTTL
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &RefreshService{
		tokens:    tokens,
		passcodes: passcodes,
		users:     users,
		signer:    signer,
		events:    publisher,
		ttl:       ttl,
		now:       time.Now,
	}
}

// CreateFamily starts a new session family and returns its first token.
func (s *RefreshService) CreateFamily(ctx context.Context, userID string, scope *domain.TenantScope) (string, error) {
	return s.issue(ctx, userID, uuid.NewString(), scope)
}

func (s *RefreshService) issue(ctx context.Context, userID, familyID string, scope *domain.TenantScope) (string, error) {
	t := &domain.RefreshToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		FamilyID:  familyID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if scope != nil {
		companyID, role := scope.CompanyID, scope.Role
		t.CompanyID = &companyID
		t.Role = &role
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return "", domain.Internal("store refresh token", err)
	}
	return t.Token, nil
}

// Rotate exchanges an ACTIVE refresh token for a new access token and a
// successor in the same family. Presenting a USED token revokes the family.
func (s *RefreshService) Rotate(ctx context.Context, value string) (*domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "RefreshService.Rotate")
	defer span.End()

	pair, err := s.rotate(ctx, value)
	if err != nil {
		span.SetStatus(codes.Error, domain.PublicMessage(err))
	}
	return pair, err
}

func (s *RefreshService) rotate(ctx context.Context, value string) (*domain.TokenPair, error) {
	if value == "" {
		return nil, ErrRefreshInvalid
	}

	stored, err := s.tokens.FindByToken(ctx, value)
	if err != nil {
		return nil, domain.Internal("find refresh token", err)
	}
	if stored == nil {
		return nil, ErrRefreshInvalid
	}

	switch stored.State(s.now()) {
	case domain.TokenRevoked:
		return nil, ErrRefreshRevoked
	case domain.TokenExpired:
		return nil, ErrRefreshExpired
	case domain.TokenUsed:
		return nil, s.reuseDetected(ctx, stored)
	}

	applied, err := s.tokens.MarkUsed(ctx, stored.ID)
	if err != nil {
		return nil, domain.Internal("mark refresh token used", err)
	}
	if !applied {
		// A concurrent rotation consumed the token first.
		return nil, s.reuseDetected(ctx, stored)
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, domain.Internal("find user", err)
	}
	if user == nil {
		return nil, domain.NotFound("user not found")
	}

	scope := stored.Scope()
	access, err := s.signer.Sign(claimsFor(user, scope))
	if err != nil {
		return nil, domain.Internal("sign access token", err)
	}
	refresh, err := s.issue(ctx, user.ID, stored.FamilyID, scope)
	if err != nil {
		return nil, err
	}

	// A concurrent replay may have revoked the family before the successor
	// existed; the successor must not outlive that revocation.
	current, err := s.tokens.FindByToken(ctx, stored.Token)
	if err != nil {
		return nil, domain.Internal("find refresh token", err)
	}
	if current == nil || current.IsRevoked {
		return nil, s.reuseDetected(ctx, stored)
	}

	logger.DebugContext(ctx, "Refresh token rotated", "user_id", user.ID, "family_id", stored.FamilyID)
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *RefreshService) reuseDetected(ctx context.Context, stored *domain.RefreshToken) error {
	if _, err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
		return domain.Internal("revoke family", err)
	}

	logger.WarnContext(ctx, "Refresh token reuse detected, family revoked",
		"user_id", stored.UserID, "family_id", stored.FamilyID)

	evt := events.SessionReuseDetectedEvent{
		UserID:     stored.UserID,
		FamilyID:   stored.FamilyID,
		DetectedAt: s.now(),
	}
	if scope := stored.Scope(); scope != nil {
		evt.CompanyID = scope.CompanyID
	}
	if user, err := s.users.FindByID(ctx, stored.UserID); err == nil && user != nil {
		evt.Email, evt.Name = user.Email, user.Name
	}
	if err := s.events.Publish(ctx, events.SessionReuseDetected, evt); err != nil {
		logger.ErrorContext(ctx, "Failed to publish reuse event", "error", err, "family_id", stored.FamilyID)
	}
	return ErrRefreshReused
}

// Revoke marks a single token revoked. Unknown values are ignored.
func (s *RefreshService) Revoke(ctx context.Context, value string) error {
	if value == "" {
		return nil
	}
	if err := s.tokens.Revoke(ctx, value); err != nil {
		return domain.Internal("revoke refresh token", err)
	}
	return nil
}

func (s *RefreshService) RevokeFamily(ctx context.Context, familyID string) error {
	if _, err := s.tokens.RevokeFamily(ctx, familyID); err != nil {
		return domain.Internal("revoke family", err)
	}
	return nil
}

// RevokeAllForUser ends every session of the user across all tenants.
func (s *RefreshService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, domain.Internal("revoke user sessions", err)
	}

	evt := events.SessionsRevokedAllEvent{UserID: userID, RevokedAt: s.now()}
	if err := s.events.Publish(ctx, events.SessionsRevokedAll, evt); err != nil {
		logger.ErrorContext(ctx, "Failed to publish revoke-all event", "error", err, "user_id", userID)
	}

	logger.InfoContext(ctx, "All sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

// CleanupExpired purges expired refresh tokens and passcodes. Running it
// twice in a row deletes nothing the second time.
func (s *RefreshService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "RefreshService.CleanupExpired")
	defer span.End()

	now := s.now()
	tokens, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return 0, domain.Internal("delete expired refresh tokens", err)
	}
	passcodes, err := s.passcodes.DeleteExpired(ctx, now)
	if err != nil {
		return tokens, domain.Internal("delete expired passcodes", err)
	}

	span.SetAttributes(
		attribute.Int64("refresh_tokens.deleted", tokens),
		attribute.Int64("passcodes.deleted", passcodes),
	)
	return tokens + passcodes, nil
}

func claimsFor(u *domain.User, scope *domain.TenantScope) auth.Claims {
	c := auth.Claims{Name: u.Name, Email: u.Email}
	c.Subject = u.ID
	if scope != nil {
		c.CompanyID = scope.CompanyID
		c.Role = scope.Role
	}
	return c
}

// RunCleanup calls CleanupExpired every interval until ctx is done. Failures
// are logged and retried on the next tick.
func (s *RefreshService) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.CleanupExpired(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Credential cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "Expired credentials removed", "count", n)
			}
		}
	}
}
