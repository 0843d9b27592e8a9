package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("client-7", "Ana", "client", "wed_1", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "client-7" || claims.Role != "client" || claims.WeddingID != "wed_1" || claims.JTI == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("secret")
	expired, err := IssueToken(secret, NewClaims("staff-1", "Jordan", "staff", "", -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, expired); err != ErrExpiredToken {
		t.Fatalf("expired: got %v, want ErrExpiredToken", err)
	}

	valid, err := IssueToken(secret, NewClaims("staff-1", "Jordan", "staff", "", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), valid); err != ErrInvalidToken {
		t.Fatalf("wrong secret: got %v, want ErrInvalidToken", err)
	}

	payload, signature, _ := strings.Cut(valid, ".")
	tampered := payload[:len(payload)-2] + "AA." + signature
	if _, err := ParseToken(secret, tampered); err != ErrInvalidToken {
		t.Fatalf("tampered: got %v, want ErrInvalidToken", err)
	}
	if _, err := ParseToken(secret, "a.b.c"); err != ErrInvalidToken {
		t.Fatalf("three parts: got %v, want ErrInvalidToken", err)
	}

	missingRole, err := IssueToken(secret, Claims{Sub: "x", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, missingRole); err != ErrInvalidToken {
		t.Fatalf("missing role: got %v, want ErrInvalidToken", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range cases {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestSecretsEqual(t *testing.T) {
	if !SecretsEqual("hook", "hook") {
		t.Fatal("expected equal secrets to match")
	}
	if SecretsEqual("hook", "hoo") {
		t.Fatal("expected different secrets to differ")
	}
	if SecretsEqual("", "") {
		t.Fatal("expected empty expected secret to never match")
	}
}
