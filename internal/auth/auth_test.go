package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret-key-that-is-long-enough!!"

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestVerifyReturnsIdentity(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   userID.String(),
		"email": "customer@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	identity, err := NewVerifier(testSecret).Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.UserID != userID {
		t.Fatalf("user id = %s, want %s", identity.UserID, userID)
	}
	if identity.Email != "customer@example.com" {
		t.Fatalf("email = %q", identity.Email)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	t.Parallel()

	userID := uuid.NewString()

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{
			name: "wrong secret",
			token: signToken(t, "another-secret-key-that-is-long!!", jwt.MapClaims{
				"sub": userID,
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": userID,
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "subject is not a user id",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": "someone",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewVerifier(testSecret).Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
