package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return raw
}

func TestParseIdentity(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	tests := []struct {
		name       string
		token      string
		wantUserID string
		wantExp    bool
		wantErr    bool
	}{
		{
			name:       "subject claim",
			token:      signToken(t, jwt.MapClaims{"sub": "user-123", "exp": exp.Unix()}),
			wantUserID: "user-123",
			wantExp:    true,
		},
		{
			name:       "user_id claim fallback",
			token:      signToken(t, jwt.MapClaims{"user_id": "user-456"}),
			wantUserID: "user-456",
		},
		{
			name:    "no identity claim",
			token:   signToken(t, jwt.MapClaims{"exp": exp.Unix()}),
			wantErr: true,
		},
		{
			name:    "not a token",
			token:   "plainly-not-a-jwt",
			wantErr: true,
		},
		{
			name:    "empty token",
			token:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := ParseIdentity(tt.token)

			if tt.wantErr {
				if err == nil {
					t.Error("ParseIdentity() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIdentity() error = %v", err)
			}

			if identity.UserID != tt.wantUserID {
				t.Errorf("ParseIdentity() user id = %q, want %q", identity.UserID, tt.wantUserID)
			}
			if tt.wantExp && !identity.ExpiresAt.Equal(exp) {
				t.Errorf("ParseIdentity() expires at = %v, want %v", identity.ExpiresAt, exp)
			}
		})
	}
}

func TestIdentityExpired(t *testing.T) {
	now := time.Now()

	fresh := &Identity{UserID: "u", ExpiresAt: now.Add(time.Hour)}
	if fresh.Expired(now) {
		t.Error("Expired() = true for a future expiry")
	}

	stale := &Identity{UserID: "u", ExpiresAt: now.Add(-time.Hour)}
	if !stale.Expired(now) {
		t.Error("Expired() = false for a past expiry")
	}

	unset := &Identity{UserID: "u"}
	if unset.Expired(now) {
		t.Error("Expired() = true when the token carried no expiry")
	}
}
