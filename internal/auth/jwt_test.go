package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("device-7", RoleDevice, "schoolops", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "secret", "schoolops")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "device-7" || claims.Role != RoleDevice {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("parent-1", RoleParent, "schoolops", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "other", "schoolops"); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pair, err := Issue("staff-1", RoleStaff, "other-system", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "schoolops"); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	if _, err := Issue("x", "superuser", "schoolops", "secret", time.Minute, time.Hour); err == nil {
		t.Fatal("expected unknown role error")
	}
}
