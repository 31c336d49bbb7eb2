package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cryptorafts/platform/internal/models/entities"
)

var ErrInvalidToken = errors.New("invalid token")

// UserClaims is the identity attached to an authenticated request
type UserClaims interface {
	UserID() string
	Email() string
	Source() string
}

// JWTClaims are the claims of a platform access token. The subject is the user id.
type JWTClaims struct {
	EmailValue string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *JWTClaims) UserID() string { return c.Subject }
func (c *JWTClaims) Email() string  { return c.EmailValue }
func (c *JWTClaims) Source() string { return "JWT" }

// AuthUser converts the claims into the identity the services work with
func AuthUser(c UserClaims) entities.AuthUser {
	return entities.AuthUser{ID: c.UserID(), Email: c.Email()}
}

// IssueToken signs an HS256 token for userID valid for ttl
func IssueToken(secret, userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	claims := &JWTClaims{
		EmailValue: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its claims
func ParseToken(secret, raw string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
