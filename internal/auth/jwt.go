package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	jwt.RegisteredClaims
	Roles         []string `json:"roles,omitempty"`
	PublicProfile bool     `json:"public_profile,omitempty"`
}

// JWT issues and verifies HS256 bearer tokens.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

func (j *JWT) Issue(id Identity, ttl time.Duration) (string, error) {
	now := j.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:         id.Roles,
		PublicProfile: id.PublicProfile,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (j *JWT) Parse(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return Identity{UserID: c.Subject, Roles: c.Roles, PublicProfile: c.PublicProfile}, nil
}

// Middleware attaches the bearer token's identity to the request context.
// Requests without a token pass through anonymously; a bad token is
// rejected through fail. Browsers cannot set headers on a websocket
// upgrade, so access_token in the query is accepted as well.
func (j *JWT) Middleware(fail func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearer(r)
			if err != nil {
				fail(w, r, err)
				return
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := j.Parse(token)
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return r.URL.Query().Get("access_token"), nil
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
	}
	return strings.TrimSpace(token), nil
}
