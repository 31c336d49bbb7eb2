package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestIssueAndParseToken(t *testing.T) {
	raw, err := IssueToken(testSecret, "u1", "u1@rafts.io", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := ParseToken(testSecret, raw)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID() != "u1" || claims.Email() != "u1@rafts.io" {
		t.Errorf("claims = %+v", claims)
	}
	if user := AuthUser(claims); user.ID != "u1" || user.Email != "u1@rafts.io" {
		t.Errorf("AuthUser() = %+v", user)
	}
}

func TestParseTokenRejects(t *testing.T) {
	expired, _ := IssueToken(testSecret, "u1", "", -time.Minute)
	otherSecret, _ := IssueToken("other", "u1", "", time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString([]byte(testSecret))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"expired":       expired,
		"wrong secret":  otherSecret,
		"no expiry":     noExpiry,
		"wrong alg":     wrongAlg,
		"garbage":       "not.a.token",
		"empty subject": "",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(testSecret, raw); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ParseToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestUserClaimsContext(t *testing.T) {
	if GetUserClaims(context.Background()) != nil {
		t.Fatal("empty context returned claims")
	}
	claims := &JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}
	ctx := SetUserClaims(context.Background(), claims)
	if got := GetUserClaims(ctx); got == nil || got.UserID() != "u1" {
		t.Errorf("GetUserClaims() = %v", got)
	}
}
