package identity_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/identity"
	"github.com/stagepass/points-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolve_FirstContact_ProvisionsUser(t *testing.T) {
	// GIVEN: An auth ref the store has never seen
	// WHEN: Resolving twice
	// THEN: The first call provisions a user; the second returns the same one

	store := newTestStore(t)
	resolver := identity.NewTokenResolver(store, nil, nil)

	req := httptest.NewRequest("GET", "/api/clubs/club-1/wallet", nil)
	req.Header.Set("Authorization", "Bearer auth0|fan42")

	u, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, u.Active)
	assert.Equal(t, "auth0|fan42", u.AuthRef)
	assert.Equal(t, "auth0", u.DisplayName)
	assert.NotEmpty(t, u.ID)

	again, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
}

func TestResolve_TokenMap_TranslatesToAuthRef(t *testing.T) {
	store := newTestStore(t)
	resolver := identity.NewTokenResolver(store,
		map[string]string{"tok-abc": "auth0|alice"}, nil)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer tok-abc")

	u, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "auth0|alice", u.AuthRef)

	// An unmapped token never reaches the store
	bad := httptest.NewRequest("GET", "/", nil)
	bad.Header.Set("Authorization", "Bearer tok-unknown")
	_, err = resolver.Resolve(context.Background(), bad)
	assert.ErrorIs(t, err, economy.ErrUnauthorized)
}

func TestResolve_MissingOrMalformedHeader_Rejected(t *testing.T) {
	store := newTestStore(t)
	resolver := identity.NewTokenResolver(store, nil, nil)

	for _, header := range []string{"", "Bearer ", "Basic dXNlcg==", "tok-abc"} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		_, err := resolver.Resolve(context.Background(), req)
		assert.ErrorIs(t, err, economy.ErrUnauthorized, "header %q", header)
	}
}

func TestResolve_DeactivatedUser_Rejected(t *testing.T) {
	// GIVEN: A previously provisioned, now deactivated user
	// WHEN: They present a valid token
	// THEN: ErrUnauthorized; the row itself is untouched

	store := newTestStore(t)
	require.NoError(t, store.SaveUser(context.Background(), economy.User{
		ID:          "usr_1",
		DisplayName: "Mallory",
		AuthRef:     "auth0|mallory",
		Active:      false,
		CreatedAt:   time.Now().UTC(),
	}))
	resolver := identity.NewTokenResolver(store, nil, nil)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer auth0|mallory")

	_, err := resolver.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, economy.ErrUnauthorized)
}

func TestIsAdmin_AllowlistByAuthRef(t *testing.T) {
	store := newTestStore(t)
	resolver := identity.NewTokenResolver(store, nil, []string{"auth0|ops"})

	assert.True(t, resolver.IsAdmin(&economy.User{AuthRef: "auth0|ops"}))
	assert.False(t, resolver.IsAdmin(&economy.User{AuthRef: "auth0|fan"}))
	assert.False(t, resolver.IsAdmin(nil))
}
