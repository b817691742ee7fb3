package auth

import (
	"context"
	"errors"
	"slices"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
)

var ErrUnauthorized = errors.New("unauthorized")
var ErrForbidden = errors.New("forbidden")

const RoleAdmin = "admin"

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID        string
	Roles         []string
	PublicProfile bool
}

func (id Identity) Has(role string) bool { return slices.Contains(id.Roles, role) }

// Authorizer answers who is calling and what they may do.
type Authorizer interface {
	CurrentUserID(ctx context.Context) (string, error)
	HasRole(ctx context.Context, userID, role string) bool
	CanManage(ctx context.Context, b engine.Battle) bool
}

// Profiles reports whether a user's profile is public.
type Profiles interface {
	IsPublic(ctx context.Context, userID string) (bool, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// ContextAuthorizer reads the identity the middleware stored on the request
// context. Roles are only known for the caller, so HasRole is false for any
// other user.
type ContextAuthorizer struct{}

func (ContextAuthorizer) CurrentUserID(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", ErrUnauthorized
	}
	return id.UserID, nil
}

func (ContextAuthorizer) HasRole(ctx context.Context, userID, role string) bool {
	id, ok := IdentityFrom(ctx)
	return ok && id.UserID == userID && id.Has(role)
}

// CanManage allows admins, the battle owner and listed managers.
func (ContextAuthorizer) CanManage(ctx context.Context, b engine.Battle) bool {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return false
	}
	return id.Has(RoleAdmin) || b.IsManager(id.UserID)
}

// ClaimProfiles answers from the caller's token for the caller and from
// Public for everybody else.
type ClaimProfiles struct {
	Public map[string]bool
}

func (p ClaimProfiles) IsPublic(ctx context.Context, userID string) (bool, error) {
	if id, ok := IdentityFrom(ctx); ok && id.UserID == userID {
		return id.PublicProfile, nil
	}
	return p.Public[userID], nil
}
