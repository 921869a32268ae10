package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/reservaja/pkg/events"
	"github.com/diagnosis/reservaja/services/auth/internal/domain"
)

func TestRotateChain(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")

	t0, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)

	p1, err := h.sessions.Rotate(ctx, t0)
	require.NoError(t, err)
	p2, err := h.sessions.Rotate(ctx, p1.RefreshToken)
	require.NoError(t, err)

	family := h.store.token(t0).FamilyID
	assert.Equal(t, family, h.store.token(p1.RefreshToken).FamilyID)
	assert.Equal(t, family, h.store.token(p2.RefreshToken).FamilyID)

	active := 0
	for _, tok := range h.store.familyTokens(family) {
		if tok.State(time.Now()) == domain.TokenActive {
			active++
		}
	}
	assert.Equal(t, 1, active, "only the newest token in a family is active")
}

func TestRotateReuseRevokesFamily(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")

	t0, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)
	p1, err := h.sessions.Rotate(ctx, t0)
	require.NoError(t, err)

	_, err = h.sessions.Rotate(ctx, t0)
	assert.ErrorIs(t, err, ErrRefreshReused)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	for _, tok := range h.store.familyTokens(h.store.token(t0).FamilyID) {
		assert.True(t, tok.IsRevoked, tok.ID)
	}

	_, err = h.sessions.Rotate(ctx, p1.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshRevoked)

	require.Equal(t, []string{events.SessionReuseDetected}, h.events.subjects())
	evt := h.events.events[0].data.(events.SessionReuseDetectedEvent)
	assert.Equal(t, u.ID, evt.UserID)
	assert.Equal(t, "a@x.com", evt.Email)
}

func TestRotateUnknownToken(t *testing.T) {
	h := newHarness()

	_, err := h.sessions.Rotate(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrRefreshInvalid)
	assert.NotErrorIs(t, err, ErrRefreshReused)
	assert.NotErrorIs(t, err, ErrRefreshExpired)
	assert.NotEqual(t, domain.PublicMessage(ErrRefreshInvalid), domain.PublicMessage(ErrRefreshReused))

	_, err = h.sessions.Rotate(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshInvalid)
}

func TestRotateExpiredToken(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")
	t0, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)

	h.sessions.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = h.sessions.Rotate(ctx, t0)
	assert.ErrorIs(t, err, ErrRefreshExpired)
	assert.False(t, h.store.token(t0).IsRevoked, "expiry does not revoke the family")
}

func TestRotateRevokedBeatsExpired(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")
	t0, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)
	require.NoError(t, h.sessions.Revoke(ctx, t0))

	h.sessions.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = h.sessions.Rotate(ctx, t0)
	assert.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestRotateKeepsTenantScope(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")

	t0, err := h.sessions.CreateFamily(ctx, u.ID, &domain.TenantScope{CompanyID: "c1", Role: domain.RoleOwner})
	require.NoError(t, err)
	p1, err := h.sessions.Rotate(ctx, t0)
	require.NoError(t, err)

	claims, err := h.signer.Parse(p1.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims.CompanyID)
	assert.Equal(t, domain.RoleOwner, claims.Role)
	assert.Equal(t, "Ana", claims.Name)
	stored := h.store.token(p1.RefreshToken)
	assert.Equal(t, &domain.TenantScope{CompanyID: "c1", Role: domain.RoleOwner}, stored.Scope())
}

func TestRotateMissingUser(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	t0, err := h.sessions.CreateFamily(ctx, "deleted-user", nil)
	require.NoError(t, err)

	_, err = h.sessions.Rotate(ctx, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentRotateOnlyOneWins(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")
	t0, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = h.sessions.Rotate(ctx, t0)
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	assert.LessOrEqual(t, wins, 1)

	// Every loser is a replay, so the whole lineage ends up revoked,
	// including whatever successor the winner minted.
	for _, tok := range h.store.familyTokens(h.store.token(t0).FamilyID) {
		assert.True(t, tok.IsRevoked, tok.ID)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")
	other := h.store.addUser("b@x.com", "Bia")

	a, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)
	b, err := h.sessions.CreateFamily(ctx, u.ID, &domain.TenantScope{CompanyID: "c1", Role: domain.RoleOwner})
	require.NoError(t, err)
	keep, err := h.sessions.CreateFamily(ctx, other.ID, nil)
	require.NoError(t, err)

	n, err := h.sessions.RevokeAllForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, tok := range []string{a, b} {
		_, err := h.sessions.Rotate(ctx, tok)
		assert.ErrorIs(t, err, ErrRefreshRevoked)
	}
	_, err = h.sessions.Rotate(ctx, keep)
	assert.NoError(t, err)
	assert.Contains(t, h.events.subjects(), events.SessionsRevokedAll)
}

func TestRevokeFamily(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")
	t0, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)

	require.NoError(t, h.sessions.RevokeFamily(ctx, h.store.token(t0).FamilyID))
	_, err = h.sessions.Rotate(ctx, t0)
	assert.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	u := h.store.addUser("a@x.com", "Ana")
	_, err := h.sessions.CreateFamily(ctx, u.ID, nil)
	require.NoError(t, err)
	require.NoError(t, h.issuer.RequestPasscode(ctx, "a@x.com"))

	h.sessions.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	n, err := h.sessions.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = h.sessions.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	h := newHarness()
	u := h.store.addUser("a@x.com", "Ana")
	_, err := h.sessions.CreateFamily(context.Background(), u.ID, nil)
	require.NoError(t, err)
	h.sessions.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sessions.RunCleanup(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		return len(h.store.refresh) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
