/*
Package identity resolves HTTP callers to stable internal users.

The engine never keys wallets on external identity-provider subjects. The
resolver maps an authenticated subject (auth ref) to an internal User,
creating the user on first contact. Users are never deleted, only
deactivated; a deactivated user's requests fail authorization while their
ledger history stays intact.
*/
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/store/sqlite"
)

// Resolver authenticates a request and returns the internal user.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*economy.User, error)
	IsAdmin(u *economy.User) bool
}

// TokenResolver resolves bearer tokens to users. Tokens maps token to auth
// ref; an empty map treats the token itself as the auth ref, which is only
// acceptable behind a trusted gateway that already validated it.
type TokenResolver struct {
	store  *sqlite.Store
	tokens map[string]string
	admins map[string]bool // keyed by auth ref
}

// NewTokenResolver builds a resolver over the user store.
func NewTokenResolver(store *sqlite.Store, tokens map[string]string, adminRefs []string) *TokenResolver {
	admins := make(map[string]bool, len(adminRefs))
	for _, ref := range adminRefs {
		admins[ref] = true
	}
	return &TokenResolver{store: store, tokens: tokens, admins: admins}
}

// Resolve authenticates the request and returns its user, provisioning a new
// one on first contact.
func (tr *TokenResolver) Resolve(ctx context.Context, r *http.Request) (*economy.User, error) {
	authRef, err := tr.authRef(r)
	if err != nil {
		return nil, err
	}

	u, err := tr.store.GetUserByAuthRef(ctx, authRef)
	if errors.Is(err, economy.ErrNotFound) {
		return tr.provision(ctx, authRef)
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, economy.ErrUnauthorized
	}
	return u, nil
}

// IsAdmin reports whether the user's auth ref is in the admin allowlist.
func (tr *TokenResolver) IsAdmin(u *economy.User) bool {
	return u != nil && tr.admins[u.AuthRef]
}

func (tr *TokenResolver) authRef(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", economy.ErrUnauthorized
	}
	if len(tr.tokens) == 0 {
		return token, nil
	}
	ref, ok := tr.tokens[token]
	if !ok {
		return "", economy.ErrUnauthorized
	}
	return ref, nil
}

// provision creates the user for a first-time auth ref. A concurrent first
// contact races on the auth ref's unique index; the loser re-reads the
// winner's row.
func (tr *TokenResolver) provision(ctx context.Context, authRef string) (*economy.User, error) {
	u := economy.User{
		ID:          economy.UserID("usr_" + uuid.NewString()),
		DisplayName: displayNameFor(authRef),
		AuthRef:     authRef,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	err := tr.store.SaveUser(ctx, u)
	if errors.Is(err, economy.ErrDatastoreConflict) {
		return tr.store.GetUserByAuthRef(ctx, authRef)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// displayNameFor derives a placeholder name from the subject, cutting at the
// first provider separator.
func displayNameFor(authRef string) string {
	if i := strings.IndexAny(authRef, "|:@"); i > 0 {
		return authRef[:i]
	}
	return authRef
}
