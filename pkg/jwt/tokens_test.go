package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("0f8fad5b-d9cb-469f-a165-70867728950e", ScopeLogsWrite, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.DeploymentID != "0f8fad5b-d9cb-469f-a165-70867728950e" {
		t.Fatalf("unexpected deployment id %q", claims.DeploymentID)
	}
	if claims.Scope != ScopeLogsWrite {
		t.Fatalf("unexpected scope %q", claims.Scope)
	}
}

func TestParseRejectsWrongSecretAndExpired(t *testing.T) {
	token, err := GenerateToken("dep", ScopeLogsWrite, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	expired, err := GenerateToken("dep", ScopeLogsWrite, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("generate expired: %v", err)
	}
	if _, err := Parse(expired, "secret"); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestGenerateRequiresDeployment(t *testing.T) {
	if _, err := GenerateToken("", "", "secret", time.Minute); err == nil {
		t.Fatalf("expected empty deployment id to be rejected")
	}
}
