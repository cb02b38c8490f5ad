package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrInvalidToken is returned for any token that fails parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims extends JWT standard claims with the caller's role and permissions.
// Subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Role        model.Role         `json:"role"`
	Permissions []model.Permission `json:"permissions,omitempty"`
}

// ActorID returns the token subject.
func (c *Claims) ActorID() string { return c.Subject }

// HasPermission reports whether the claims grant perm. Tokens without an
// explicit list fall back to the role defaults.
func (c *Claims) HasPermission(perm model.Permission) bool {
	perms := c.Permissions
	if len(perms) == 0 {
		perms = model.DefaultPermissions(c.Role)
	}
	return slices.Contains(perms, perm)
}

// AuthService validates and issues tokens. Credential checks live in the
// user layer; this service only trusts what it can verify by signature.
type AuthService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string, expiry time.Duration) *AuthService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthService{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// IssueToken signs a token for actorID. Used by tests and the dev
// -issue-token flag.
func (s *AuthService) IssueToken(actorID string, role model.Role, permissions []model.Permission) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Role:        role,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
