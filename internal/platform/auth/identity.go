package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity captures the authenticated customer extracted from a Firebase ID token.
type Identity struct {
	UID    string
	Email  string
	Locale string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Guest identifies an anonymous device holding a signed guest token.
type Guest struct {
	DeviceID string
}

type contextKey string

const (
	identityContextKey contextKey = "github.com/baqala/storefront/internal/platform/auth/identity"
	guestContextKey    contextKey = "github.com/baqala/storefront/internal/platform/auth/guest"
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil || identity.UID == "" {
		return nil, false
	}
	return identity, true
}

// WithGuest stores the guest device on the context.
func WithGuest(ctx context.Context, guest Guest) context.Context {
	return context.WithValue(ctx, guestContextKey, guest)
}

// GuestFromContext retrieves the guest device stored by GuestMiddleware.
func GuestFromContext(ctx context.Context) (Guest, bool) {
	guest, ok := ctx.Value(guestContextKey).(Guest)
	if !ok || guest.DeviceID == "" {
		return Guest{}, false
	}
	return guest, true
}
