// Package auth issues and verifies the bearer tokens that identify the
// current viewer.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
)

// Roles carried in the token's role claim.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload: the user id as subject plus a role.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer keyed by secret using the wall clock.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Mint returns a signed token for u that expires after ttl.
func (i *Issuer) Mint(u model.User, ttl time.Duration) (string, error) {
	role := RoleMember
	if u.IsAdmin {
		role = RoleAdmin
	}
	now := i.now()
	claims := Claims{
		Sub:  u.ID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenStr and returns the viewer it names.
func (i *Issuer) Parse(tokenStr string) (model.Viewer, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return model.Viewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Sub == "" {
		return model.Viewer{}, ErrInvalidToken
	}
	return model.Viewer{UserID: c.Sub, IsAdmin: c.Role == RoleAdmin}, nil
}
