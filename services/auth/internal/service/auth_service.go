package service

import (
	"context"
	"errors"
	"time"

	"github.com/alexedwards/argon2id"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/pkg/tracing"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
)

var tracer = tracing.Tracer("github.com/diagnosis/reservaja/services/auth")

// ErrPasscodeInvalid covers wrong, expired and already redeemed codes alike.
var ErrPasscodeInvalid = domain.Unauthorized("invalid or expired token")

type AuthService struct {
	users       repository.UserRepository
	passcodes   repository.PasscodeRepository
	memberships repository.MembershipRepository
	invitations repository.InvitationRepository
	issuer      *PasscodeIssuer
	sessions    *RefreshService
	signer      TokenSigner
	now         func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	passcodes repository.PasscodeRepository,
	memberships repository.MembershipRepository,
	invitations repository.InvitationRepository,
	issuer *PasscodeIssuer,
	sessions *RefreshService,
	signer TokenSigner,
) *AuthService {
	return &AuthService{
		users:       users,
		passcodes:   passcodes,
		memberships: memberships,
		invitations: invitations,
		issuer:      issuer,
		sessions:    sessions,
		signer:      signer,
		now:         time.Now,
	}
}

// Register creates the user if needed, redeems any pending invitations for the
// email and sends a passcode. Registering an existing email is not an error.
func (s *AuthService) Register(ctx context.Context, req *domain.SignUpRequest) (*domain.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.users.Upsert(ctx, req)
	if err != nil {
		return nil, domain.Internal("upsert user", err)
	}

	pending, err := s.invitations.ListPendingByEmail(ctx, user.Email, s.now())
	if err != nil {
		return nil, domain.Internal("list pending invitations", err)
	}
	for i := range pending {
		err := s.invitations.Accept(ctx, &pending[i], user.ID)
		if errors.Is(err, repository.ErrInvitationNotPending) {
			continue
		}
		if err != nil {
			return nil, domain.Internal("accept invitation", err)
		}
		logger.InfoContext(ctx, "Invitation accepted on signup",
			"user_id", user.ID, "company_id", pending[i].CompanyID)
	}

	if err := s.issuer.RequestPasscode(ctx, user.Email); err != nil {
		return nil, err
	}
	return user, nil
}

// RequestPasscode sends a sign-in code to an existing user.
func (s *AuthService) RequestPasscode(ctx context.Context, email string) error {
	return s.issuer.RequestPasscode(ctx, email)
}

// Verify redeems a passcode and opens a generic (untenanted) session.
func (s *AuthService) Verify(ctx context.Context, email, code string) (*domain.LoginResult, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Verify")
	defer span.End()

	res, err := s.verify(ctx, domain.NormalizeEmail(email), code)
	if err != nil {
		span.SetStatus(codes.Error, domain.PublicMessage(err))
	}
	return res, err
}

func (s *AuthService) verify(ctx context.Context, email, code string) (*domain.LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, domain.Internal("find user", err)
	}
	if user == nil {
		return nil, domain.NotFound("user not found")
	}

	active, err := s.passcodes.ListActive(ctx, user.ID, s.now())
	if err != nil {
		return nil, domain.Internal("list passcodes", err)
	}

	var matched *domain.OneTimeToken
	for i := range active {
		ok, err := argon2id.ComparePasswordAndHash(code, active[i].TokenHash)
		if err != nil {
			logger.WarnContext(ctx, "Unreadable passcode hash", "error", err, "token_id", active[i].ID)
			continue
		}
		if ok {
			matched = &active[i]
			break
		}
	}
	if matched == nil {
		return nil, ErrPasscodeInvalid
	}

	consumed, err := s.passcodes.Delete(ctx, matched.ID)
	if err != nil {
		return nil, domain.Internal("delete passcode", err)
	}
	if !consumed {
		return nil, ErrPasscodeInvalid
	}

	memberships, err := s.memberships.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, domain.Internal("list memberships", err)
	}

	access, err := s.signer.Sign(claimsFor(user, nil))
	if err != nil {
		return nil, domain.Internal("sign access token", err)
	}
	refresh, err := s.sessions.CreateFamily(ctx, user.ID, nil)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "User signed in", "user_id", user.ID, "companies", len(memberships))
	return &domain.LoginResult{
		TokenPair: domain.TokenPair{AccessToken: access, RefreshToken: refresh},
		User:      domain.NewUserPayload(user, memberships),
	}, nil
}

// SelectTenant opens a session scoped to one of the user's companies. Sessions
// for other companies are left alone.
func (s *AuthService) SelectTenant(ctx context.Context, companyID, userID string) (*domain.TokenPair, *domain.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.SelectTenant")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	membership, err := s.memberships.Find(ctx, userID, companyID)
	if err != nil {
		return nil, nil, domain.Internal("find membership", err)
	}
	if membership == nil {
		span.SetStatus(codes.Error, "not a member")
		return nil, nil, domain.Unauthorized("not an employee of the selected company")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, domain.Internal("find user", err)
	}
	if user == nil {
		return nil, nil, domain.NotFound("user not found")
	}

	scope := &domain.TenantScope{CompanyID: membership.CompanyID, Role: membership.Role}
	access, err := s.signer.Sign(claimsFor(user, scope))
	if err != nil {
		return nil, nil, domain.Internal("sign access token", err)
	}
	refresh, err := s.sessions.CreateFamily(ctx, user.ID, scope)
	if err != nil {
		return nil, nil, err
	}

	logger.InfoContext(ctx, "Tenant selected", "user_id", user.ID, "company_id", scope.CompanyID, "role", scope.Role)
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, user, nil
}
