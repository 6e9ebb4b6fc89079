package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/zhoulihan/workdesk/backend/internal/auth"
	"github.com/zhoulihan/workdesk/backend/internal/model/user"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	svc := auth.New("test-secret", time.Hour)

	claims := user.Claims{UserID: "u1", Username: "alice", IsAdmin: true, Tier: "team"}
	token, err := svc.Sign(claims)
	if err != nil {
		t.Fatalf("Sign err: %v", err)
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify err: %v", err)
	}
	if got != claims {
		t.Fatalf("claims mismatch: got %+v want %+v", got, claims)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := auth.New("secret-a", time.Hour).Sign(user.Claims{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign err: %v", err)
	}

	if _, err := auth.New("secret-b", time.Hour).Verify(token); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	svc := auth.New("test-secret", time.Hour)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.Verify(raw); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("Verify(%q): expected ErrUnauthorized, got %v", raw, err)
		}
	}
}
