package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"

	"github.com/baqala/storefront/internal/platform/httpx"
)

const (
	guestIssuer   = "storefront-guest"
	guestAudience = "storefront-cart"

	// DefaultGuestHeader carries the guest token on cart requests.
	DefaultGuestHeader = "X-Guest-Token"
)

var (
	// ErrGuestTokenInvalid indicates the guest token failed signature or claim validation.
	ErrGuestTokenInvalid = errors.New("auth: guest token invalid")
	// ErrGuestSecretMissing indicates the issuer was constructed without a signing key.
	ErrGuestSecretMissing = errors.New("auth: guest token secret not configured")
)

// GuestToken is a freshly minted device credential.
type GuestToken struct {
	Token     string
	DeviceID  string
	ExpiresAt time.Time
}

// GuestTokenIssuer signs and verifies HS256 device tokens that scope guest carts.
type GuestTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	header string
	now    func() time.Time
}

// GuestOption customises GuestTokenIssuer instances.
type GuestOption func(*GuestTokenIssuer)

// WithGuestClock overrides the clock used for issued-at and expiry claims.
func WithGuestClock(now func() time.Time) GuestOption {
	return func(g *GuestTokenIssuer) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGuestHeader overrides the request header carrying the guest token.
func WithGuestHeader(header string) GuestOption {
	return func(g *GuestTokenIssuer) {
		header = strings.TrimSpace(header)
		if header != "" {
			g.header = header
		}
	}
}

// NewGuestTokenIssuer constructs an issuer. The secret must be non-empty.
func NewGuestTokenIssuer(secret string, ttl time.Duration, opts ...GuestOption) (*GuestTokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrGuestSecretMissing
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: guest token ttl must be positive")
	}
	g := &GuestTokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		header: DefaultGuestHeader,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Issue mints a token bound to a new device id.
func (g *GuestTokenIssuer) Issue() (GuestToken, error) {
	now := g.now().UTC()
	deviceID, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return GuestToken{}, fmt.Errorf("auth: generate device id: %w", err)
	}
	expires := now.Add(g.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    guestIssuer,
		Subject:   deviceID.String(),
		Audience:  jwt.ClaimStrings{guestAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return GuestToken{}, fmt.Errorf("auth: sign guest token: %w", err)
	}
	return GuestToken{Token: signed, DeviceID: deviceID.String(), ExpiresAt: expires}, nil
}

// Verify validates the token and returns the device it identifies.
func (g *GuestTokenIssuer) Verify(token string) (Guest, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Guest{}, ErrGuestTokenInvalid
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Guest{}, ErrGuestTokenInvalid
	}
	now := g.now()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyIssuer(guestIssuer, true) || !claims.VerifyAudience(guestAudience, true) {
		return Guest{}, ErrGuestTokenInvalid
	}
	if _, err := ulid.ParseStrict(claims.Subject); err != nil {
		return Guest{}, ErrGuestTokenInvalid
	}
	return Guest{DeviceID: claims.Subject}, nil
}

// Middleware attaches the guest device when the guest header is present.
// An absent header passes through; an invalid token is rejected.
func (g *GuestTokenIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(g.header))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		guest, err := g.Verify(raw)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_guest_token", "guest token invalid or expired", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithGuest(r.Context(), guest)))
	})
}
