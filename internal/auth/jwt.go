// Package auth issues and verifies the bearer tokens of capture devices and
// operators.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens.
const (
	RoleDevice   = "device"
	RoleOperator = "operator"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrIssuerMismatch = errors.New("issuer mismatch")
	ErrUnknownRole    = errors.New("unknown role")
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ValidRole reports whether role is one the service accepts.
func ValidRole(role string) bool {
	return role == RoleDevice || role == RoleOperator
}

// Signer issues and parses HS256 tokens for one issuer.
type Signer struct {
	Issuer string
	Key    []byte
	now    func() time.Time
}

// NewSigner creates a signer. An empty key is rejected.
func NewSigner(issuer, key string) (*Signer, error) {
	if key == "" {
		return nil, errors.New("jwt signing key is empty")
	}
	return &Signer{Issuer: issuer, Key: []byte(key), now: time.Now}, nil
}

// Issue issues signed access and refresh tokens for subject.
func (s *Signer) Issue(subject, role string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if !ValidRole(role) {
		return TokenPair{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := s.now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	accessToken, err := s.sign(subject, role, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := s.sign(subject, role, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *Signer) sign(subject, role string, issued, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
}

// Parse validates a token and returns claims.
func (s *Signer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.Key, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if s.Issuer != "" && claims.Issuer != s.Issuer {
		return Claims{}, ErrIssuerMismatch
	}
	if !ValidRole(claims.Role) {
		return Claims{}, ErrUnknownRole
	}
	return *claims, nil
}
