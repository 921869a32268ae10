package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/reservaja/pkg/events"
	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/pkg/mailer"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
)

type InvitationService struct {
	invitations repository.InvitationRepository
	companies   repository.CompanyRepository
	users       repository.UserRepository
	mail        mailer.Service
	events      events.Publisher
	ttl         time.Duration
	baseURL     string
	now         func() time.Time
}

func NewInvitationService(
	invitations repository.InvitationRepository,
	companies repository.CompanyRepository,
	users repository.UserRepository,
	mail mailer.Service,
	publisher events.Publisher,
	ttl time.Duration,
	baseURL string,
) *InvitationService {
	if ttl <= 0 {
		ttl = domain.InvitationTTL
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &InvitationService{
		invitations: invitations,
		companies:   companies,
		users:       users,
		mail:        mail,
		events:      publisher,
		ttl:         ttl,
		baseURL:     strings.TrimRight(baseURL, "/"),
		now:         time.Now,
	}
}

// SendInvitation stores a PENDING invitation for companyID and mails a
// registration link to the invitee.
func (s *InvitationService) SendInvitation(ctx context.Context, req *domain.SendInvitationRequest, companyID string) (*domain.EmployeeInvitation, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now()

	existing, err := s.invitations.FindPending(ctx, req.Email, companyID, now)
	if err != nil {
		return nil, domain.Internal("find pending invitation", err)
	}
	if existing != nil {
		return nil, domain.Conflict("invitation already sent to this email")
	}

	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, domain.Internal("find company", err)
	}
	if company == nil {
		return nil, domain.NotFound("company not found")
	}

	inv := &domain.EmployeeInvitation{
		Email:     req.Email,
		CompanyID: company.ID,
		Role:      req.Role,
		Token:     uuid.NewString(),
		Status:    domain.InvitationPending,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, domain.Internal("create invitation", err)
	}

	if err := s.mail.Send(ctx, mailer.InvitationMessage(inv.Email, company.Name, s.registrationLink(inv.Token))); err != nil {
		logger.ErrorContext(ctx, "Failed to send invitation email", "error", err, "invitation_id", inv.ID)
	}

	evt := events.EmployeeInvitedEvent{
		InvitationID: inv.ID,
		Email:        inv.Email,
		CompanyID:    inv.CompanyID,
		Role:         inv.Role,
		ExpiresAt:    inv.ExpiresAt,
	}
	if err := s.events.Publish(ctx, events.EmployeeInvited, evt); err != nil {
		logger.ErrorContext(ctx, "Failed to publish invitation event", "error", err, "invitation_id", inv.ID)
	}

	logger.InfoContext(ctx, "Invitation sent", "invitation_id", inv.ID, "company_id", inv.CompanyID, "role", inv.Role)
	return inv, nil
}

func (s *InvitationService) registrationLink(token string) string {
	return s.baseURL + "/register-employee?token=" + url.QueryEscape(token)
}

// RegisterEmployee redeems an invitation token for the given email, creating
// the user if needed.
func (s *InvitationService) RegisterEmployee(ctx context.Context, req *domain.RegisterEmployeeRequest, token string) (*domain.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.invitations.FindPendingByToken(ctx, req.Email, token, s.now())
	if err != nil {
		return nil, domain.Internal("find invitation", err)
	}
	if inv == nil {
		return nil, domain.NotFound("invitation not found or invalid")
	}

	user, err := s.users.Upsert(ctx, req.SignUp())
	if err != nil {
		return nil, domain.Internal("upsert user", err)
	}

	if err := s.invitations.Accept(ctx, inv, user.ID); err != nil {
		if errors.Is(err, repository.ErrInvitationNotPending) {
			return nil, domain.NotFound("invitation not found or invalid")
		}
		return nil, domain.Internal("accept invitation", err)
	}

	evt := events.EmployeeJoinedEvent{
		InvitationID: inv.ID,
		UserID:       user.ID,
		CompanyID:    inv.CompanyID,
		Role:         inv.Role,
		JoinedAt:     s.now(),
	}
	if err := s.events.Publish(ctx, events.EmployeeJoined, evt); err != nil {
		logger.ErrorContext(ctx, "Failed to publish joined event", "error", err, "invitation_id", inv.ID)
	}

	logger.InfoContext(ctx, "Employee registered", "user_id", user.ID, "company_id", inv.CompanyID)
	return user, nil
}
