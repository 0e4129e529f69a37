// Package auth verifies bearer tokens issued by the marketplace identity
// provider. Tokens are HS256 JWTs whose subject is the user ID.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the roles claim.
const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

// DefaultLeeway is the clock skew tolerated when checking exp and nbf.
const DefaultLeeway = 30 * time.Second

// DefaultTokenExpiry is used by IssueToken when no expiry is given.
const DefaultTokenExpiry = 15 * time.Minute

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyUserID is returned when a token would carry no subject.
	ErrEmptyUserID = errors.New("userID cannot be empty")
)

// Claims represents the JWT claims the API relies on.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Verifier validates bearer tokens.
// Supports dual-key rotation: tokens are signed with the current secret
// but verify against either the current or the previous one.
type Verifier struct {
	currentSecret  []byte
	previousSecret []byte
	issuer         string
	leeway         time.Duration
	now            func() time.Time
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Secret         string
	PreviousSecret string        // optional; set while a rotation is in progress
	Issuer         string        // optional; when set the iss claim must match
	Leeway         time.Duration // defaults to DefaultLeeway
}

// NewVerifier creates a Verifier from cfg.
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{
		currentSecret: []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		leeway:        cfg.Leeway,
		now:           time.Now,
	}
	if cfg.PreviousSecret != "" {
		v.previousSecret = []byte(cfg.PreviousSecret)
	}
	if v.leeway <= 0 {
		v.leeway = DefaultLeeway
	}
	return v
}

// IssueToken signs a token for userID with the current secret. The API
// never mints tokens in production; this exists for development and tests.
func (v *Verifier) IssueToken(userID string, roles []string, expiry time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}

	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.currentSecret)
}

// Verify parses and validates tokenString, returning its claims.
// It tries the current secret first, then the previous secret if set.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims, err := v.parse(tokenString, v.currentSecret)
	if err != nil && v.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = v.parse(tokenString, v.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) parse(tokenString string, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(v.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
