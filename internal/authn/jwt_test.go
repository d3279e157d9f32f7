package authn

import (
	"testing"
	"time"
)

func TestTokenAuth_IssueAndVerify(t *testing.T) {
	auth := New("test-secret", 0)

	token, expiresAt, err := auth.IssueToken("test-client", false)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if token == "" {
		t.Error("expected non-empty token")
	}
	if expiresAt.IsZero() {
		t.Error("expected non-zero expiry")
	}

	claims, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.ClientID != "test-client" {
		t.Errorf("expected client id %q, got %q", "test-client", claims.ClientID)
	}
	if claims.IsAdmin {
		t.Error("expected IsAdmin false")
	}

	if _, err := auth.Verify("not-a-token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestTokenAuth_RequireAdmin(t *testing.T) {
	auth := New("test-secret", time.Hour)

	opToken, _, err := auth.IssueToken("operator", false)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := auth.RequireAdmin(opToken); err == nil {
		t.Error("expected RequireAdmin to reject a non-admin token")
	}

	adminToken, _, err := auth.IssueToken("admin", true)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := auth.RequireAdmin(adminToken)
	if err != nil {
		t.Fatalf("RequireAdmin() error = %v", err)
	}
	if claims.ClientID != "admin" {
		t.Errorf("expected client id %q, got %q", "admin", claims.ClientID)
	}
}

func TestTokenAuth_BearerPrefix(t *testing.T) {
	auth := New("test-secret", 0)
	token, _, err := auth.IssueToken("bearer-test", false)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := auth.Verify("Bearer " + token)
	if err != nil {
		t.Fatalf("Verify() with Bearer prefix error = %v", err)
	}
	if claims.ClientID != "bearer-test" {
		t.Error("Bearer token validation failed")
	}
}

func TestTokenAuth_CustomTTL(t *testing.T) {
	auth := New("test-secret", 2*time.Hour)
	_, expiresAt, err := auth.IssueToken("ttl-test", false)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	expected := time.Now().Add(2 * time.Hour)
	diff := expiresAt.Sub(expected)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry off by more than a minute: got %v, want ~%v", expiresAt, expected)
	}
}
