package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("HORSEDRAW_AUTH_SECRET", value)
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken("steward@venue", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	actor, err := ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	if actor != "steward@venue" {
		t.Fatalf("actor %q", actor)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	withSecret(t, "test-secret")

	if _, err := GenerateToken("", time.Minute); err == nil {
		t.Fatal("empty actor accepted")
	}
	if _, err := GenerateToken("steward", 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	withSecret(t, "test-secret")

	for _, token := range []string{"", "   ", "not.a.jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	withSecret(t, "first-secret")
	token, err := GenerateToken("steward", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	withSecret(t, "second-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	withSecret(t, "test-secret")
	token, err := GenerateToken("steward", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestConfigured(t *testing.T) {
	withSecret(t, "")
	if Configured() {
		t.Fatal("configured without a secret")
	}
	withSecret(t, "test-secret")
	if !Configured() {
		t.Fatal("not configured with a secret present")
	}
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatal("actor found on empty context")
	}
	ctx = ContextWithActor(ctx, "steward")
	actor, ok := ActorFromContext(ctx)
	if !ok || actor != "steward" {
		t.Fatalf("got %q/%v", actor, ok)
	}
	if got := ContextWithActor(context.Background(), "  "); got != context.Background() {
		t.Fatal("blank actor should not modify the context")
	}
}
