package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/pkg/mailer"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
)

// PasscodeIssuer mails one-time sign-in codes and keeps only their hashes.
type PasscodeIssuer struct {
	users     repository.UserRepository
	passcodes repository.PasscodeRepository
	mail      mailer.Service
	ttl       time.Duration
	params    *argon2id.Params
	now       func() time.Time
	generate  func() (string, error)
}

func NewPasscodeIssuer(
	users repository.UserRepository,
	passcodes repository.PasscodeRepository,
	mail mailer.Service,
	ttl time.Duration,
) *PasscodeIssuer {
	if ttl <= 0 {
		ttl = domain.PasscodeTTL
	}
	return &PasscodeIssuer{
		users:     users,
		passcodes: passcodes,
		mail:      mail,
		ttl:       ttl,
		params:    argon2id.DefaultParams,
		now:       time.Now,
		generate:  generatePasscode,
	}
}

// RequestPasscode issues a fresh code for an existing user. Earlier codes stay
// valid until they expire or one of them is redeemed.
func (p *PasscodeIssuer) RequestPasscode(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)

	user, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		return domain.Internal("find user", err)
	}
	if user == nil {
		return domain.NotFound("user not found")
	}

	code, err := p.generate()
	if err != nil {
		return domain.Internal("generate passcode", err)
	}
	hash, err := argon2id.CreateHash(code, p.params)
	if err != nil {
		return domain.Internal("hash passcode", err)
	}

	if err := p.passcodes.Create(ctx, user.ID, hash, p.now().Add(p.ttl)); err != nil {
		return domain.Internal("store passcode", err)
	}

	if err := p.mail.Send(ctx, mailer.PasscodeMessage(user.Email, code, p.ttl)); err != nil {
		// Don't fail sign-in if email fails
		logger.ErrorContext(ctx, "Failed to send passcode email", "error", err, "user_id", user.ID)
	}

	logger.InfoContext(ctx, "Passcode issued", "user_id", user.ID)
	return nil
}

func generatePasscode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(domain.PasscodeMax-domain.PasscodeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+domain.PasscodeMin), nil
}
