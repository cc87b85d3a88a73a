package httpapi

import (
	"context"
	"testing"
	"time"

	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/store/memory"
)

func TestLoginIssuesParsableToken(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "strong-test-password")
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "strong-test-password",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != "owner" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "owner" || actor.Role != "owner" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "strong-test-password")
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "nope"}); err == nil {
		t.Fatalf("expected login failure")
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "whatever"}); err == nil {
		t.Fatalf("expected login failure for unknown user")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	repo := memory.New()
	hash, err := HashPassword("retired-pass")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "former",
		Password:  hash,
		Role:      "staff",
		Active:    false,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo)
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "retired-pass"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, memory.New())
	if _, err := auth.ParseToken("not.a.jwt"); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "strong-test-password")
	repo := memory.NewSeeded()
	issuer := NewAuthManager("issuer-secret-at-least-32-chars-long!", time.Hour, repo)
	verifier := NewAuthManager("different-secret-at-least-32-chars!!", time.Hour, repo)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "strong-test-password"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("token signed with another secret must not verify")
	}
}
