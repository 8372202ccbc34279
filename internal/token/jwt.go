// Package token issues the bearer credential handed out after a successful
// OTP verification.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"phone-auth-service/internal/clock"
)

var (
	ErrInvalidSigningMethod = errors.New("invalid JWT signing method")
	ErrSecretRequired       = errors.New("JWT secret is required")
	ErrTokenExpired         = errors.New("JWT token has expired")
	ErrInvalidToken         = errors.New("invalid token")
)

const DefaultTTL = 7 * 24 * time.Hour

// Claims carries the identity of the verified phone owner.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phoneNumber"`
}

type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Clock  clock.Clock
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrSecretRequired
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Issuer{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		clock:  cfg.Clock,
	}, nil
}

// Issue returns a signed token for userID and phone valid for the configured TTL.
func (i *Issuer) Issue(userID, phone string) (string, error) {
	now := i.clock.Now()

	signed, err := jwt.
		NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   userID,
				Issuer:    i.issuer,
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			},
			UserID:      userID,
			PhoneNumber: phone,
		}).
		SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates tokenStr and returns its claims.
func (i *Issuer) Parse(tokenStr string) (Claims, error) {
	var claims Claims

	token, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidSigningMethod
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
