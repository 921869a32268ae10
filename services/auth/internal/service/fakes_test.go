package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/diagnosis/reservaja/pkg/auth"
	"github.com/diagnosis/reservaja/pkg/mailer"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
)

var errStore = errors.New("store unavailable")

// cheapParams keeps argon2id fast in tests.
var cheapParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeStore struct {
	mu          sync.Mutex
	seq         int
	users       map[string]*domain.User
	passcodes   []domain.OneTimeToken
	refresh     map[string]*domain.RefreshToken
	members     []domain.Membership
	companies   map[string]*domain.Company
	invitations []*domain.EmployeeInvitation

	// failStatusUpdate makes invitation acceptance fail after the membership
	// write, as a crash between the two statements would.
	failStatusUpdate bool
	failUsers        bool

	// afterListPasscodes runs once ListActive has released the lock.
	afterListPasscodes func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]*domain.User{},
		refresh:   map[string]*domain.RefreshToken{},
		companies: map[string]*domain.Company{},
	}
}

func (s *fakeStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *fakeStore) addUser(email, name string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &domain.User{ID: s.nextID("user"), Email: email, Name: name, CreatedAt: time.Now()}
	s.users[u.ID] = u
	return u
}

func (s *fakeStore) addCompany(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[id] = &domain.Company{ID: id, Name: name}
}

func (s *fakeStore) addMember(userID, companyID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, domain.Membership{
		UserID: userID, CompanyID: companyID, CompanyName: s.companies[companyID].Name, Role: role,
	})
}

func (s *fakeStore) familyTokens(familyID string) []domain.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range s.refresh {
		if t.FamilyID == familyID {
			out = append(out, *t)
		}
	}
	return out
}

func (s *fakeStore) token(value string) domain.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.refresh[value]
}

// users

type fakeUsers struct{ *fakeStore }

func (f fakeUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers {
		return nil, errStore
	}
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (f fakeUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers {
		return nil, errStore
	}
	if u, ok := f.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (f fakeUsers) Upsert(ctx context.Context, req *domain.SignUpRequest) (*domain.User, error) {
	if u, err := f.FindByEmail(ctx, req.Email); err != nil || u != nil {
		return u, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &domain.User{ID: f.nextID("user"), Email: req.Email, Name: req.Name, Phone: req.Phone, CreatedAt: time.Now()}
	f.users[u.ID] = u
	c := *u
	return &c, nil
}

// passcodes

type fakePasscodes struct{ *fakeStore }

func (f fakePasscodes) Create(_ context.Context, userID, hash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passcodes = append(f.passcodes, domain.OneTimeToken{
		ID: f.nextID("ott"), UserID: userID, TokenHash: hash, ExpiresAt: expiresAt, CreatedAt: time.Now(),
	})
	return nil
}

func (f fakePasscodes) ListActive(_ context.Context, userID string, now time.Time) ([]domain.OneTimeToken, error) {
	f.mu.Lock()
	var out []domain.OneTimeToken
	for _, t := range f.passcodes {
		if t.UserID == userID && !t.IsExpired(now) {
			out = append(out, t)
		}
	}
	hook := f.afterListPasscodes
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f fakePasscodes) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.passcodes {
		if t.ID == id {
			f.passcodes = append(f.passcodes[:i], f.passcodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f fakePasscodes) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.passcodes[:0]
	var n int64
	for _, t := range f.passcodes {
		if t.IsExpired(now) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	f.passcodes = kept
	return n, nil
}

// refresh tokens

type fakeRefresh struct{ *fakeStore }

func (f fakeRefresh) Create(_ context.Context, t *domain.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.nextID("rt")
	t.CreatedAt = time.Now()
	c := *t
	f.refresh[t.Token] = &c
	return nil
}

func (f fakeRefresh) FindByToken(_ context.Context, value string) (*domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.refresh[value]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (f fakeRefresh) MarkUsed(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.refresh {
		if t.ID == id {
			if t.IsUsed || t.IsRevoked {
				return false, nil
			}
			t.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (f fakeRefresh) Revoke(_ context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.refresh[value]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (f fakeRefresh) revokeWhere(match func(*domain.RefreshToken) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.refresh {
		if match(t) && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n
}

func (f fakeRefresh) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	return f.revokeWhere(func(t *domain.RefreshToken) bool { return t.FamilyID == familyID }), nil
}

func (f fakeRefresh) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	return f.revokeWhere(func(t *domain.RefreshToken) bool { return t.UserID == userID }), nil
}

func (f fakeRefresh) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.refresh {
		if now.After(t.ExpiresAt) {
			delete(f.refresh, k)
			n++
		}
	}
	return n, nil
}

// memberships and companies

type fakeMemberships struct{ *fakeStore }

func (f fakeMemberships) ListByUser(_ context.Context, userID string) ([]domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Membership
	for _, m := range f.members {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f fakeMemberships) Find(_ context.Context, userID, companyID string) (*domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.UserID == userID && m.CompanyID == companyID {
			c := m
			return &c, nil
		}
	}
	return nil, nil
}

type fakeCompanies struct{ *fakeStore }

func (f fakeCompanies) FindByID(_ context.Context, id string) (*domain.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.companies[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

// invitations

type fakeInvitations struct{ *fakeStore }

func (f fakeInvitations) Create(_ context.Context, inv *domain.EmployeeInvitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv.ID = f.nextID("inv")
	inv.Status = domain.InvitationPending
	inv.CreatedAt = time.Now()
	c := *inv
	f.invitations = append(f.invitations, &c)
	return nil
}

func (f fakeInvitations) FindPending(_ context.Context, email, companyID string, now time.Time) (*domain.EmployeeInvitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Email == email && inv.CompanyID == companyID && inv.IsRedeemable(now) {
			c := *inv
			return &c, nil
		}
	}
	return nil, nil
}

func (f fakeInvitations) ListPendingByEmail(_ context.Context, email string, now time.Time) ([]domain.EmployeeInvitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EmployeeInvitation
	for _, inv := range f.invitations {
		if inv.Email == email && inv.IsRedeemable(now) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f fakeInvitations) FindPendingByToken(_ context.Context, email, token string, now time.Time) (*domain.EmployeeInvitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Email == email && inv.Token == token && inv.IsRedeemable(now) {
			c := *inv
			return &c, nil
		}
	}
	return nil, nil
}

// Accept stages both writes and applies them together, mirroring a
// transaction that rolls back on any failure.
func (f fakeInvitations) Accept(_ context.Context, inv *domain.EmployeeInvitation, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var stored *domain.EmployeeInvitation
	for _, i := range f.invitations {
		if i.ID == inv.ID {
			stored = i
		}
	}
	if stored == nil || stored.Status != domain.InvitationPending {
		return repository.ErrInvitationNotPending
	}
	member := domain.Membership{UserID: userID, CompanyID: inv.CompanyID, Role: inv.Role}
	if c, ok := f.companies[inv.CompanyID]; ok {
		member.CompanyName = c.Name
	}
	if f.failStatusUpdate {
		return errStore
	}
	f.members = append(f.members, member)
	stored.Status = domain.InvitationAccepted
	return nil
}

// collaborators

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type publishedEvent struct {
	subject string
	data    interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{subject: subject, data: data})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.subject)
	}
	return out
}

// harness wires every service over one fake store.
type harness struct {
	store       *fakeStore
	mail        *recordingMailer
	events      *recordingPublisher
	signer      *auth.Signer
	issuer      *PasscodeIssuer
	sessions    *RefreshService
	auth        *AuthService
	invitations *InvitationService
	codes       []string
}

func newHarness() *harness {
	h := &harness{
		store:  newFakeStore(),
		mail:   &recordingMailer{},
		events: &recordingPublisher{},
		signer: auth.NewSigner("test-secret", "reservaja-auth", "reservaja-api", 15*time.Minute),
	}
	users := fakeUsers{h.store}
	passcodes := fakePasscodes{h.store}

	h.issuer = NewPasscodeIssuer(users, passcodes, h.mail, 15*time.Minute)
	h.issuer.params = cheapParams
	next := 100000
	h.issuer.generate = func() (string, error) {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		next++
		code := fmt.Sprintf("%06d", next)
		h.codes = append(h.codes, code)
		return code, nil
	}

	h.sessions = NewRefreshService(fakeRefresh{h.store}, passcodes, users, h.signer, h.events, 30*24*time.Hour)
	h.auth = NewAuthService(users, passcodes, fakeMemberships{h.store}, fakeInvitations{h.store}, h.issuer, h.sessions, h.signer)
	h.invitations = NewInvitationService(fakeInvitations{h.store}, fakeCompanies{h.store}, users, h.mail, h.events, 7*24*time.Hour, "http://app.test/")
	return h
}

func (h *harness) lastCode() string {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.codes[len(h.codes)-1]
}
