package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, 42, "Avery", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != 42 || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v (id=%d, err=%v)", claims, id, err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, 42, "Avery", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), 42, "Avery", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), issued+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for altered signature, got %v", err)
	}
}

func TestParseTokenRejectsBadSubjects(t *testing.T) {
	secret := []byte("secret")
	cases := map[string]jwt.RegisteredClaims{
		"non numeric": {Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		"zero":        {Subject: "0", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		"no expiry":   {Subject: "5"},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := ParseToken(secret, signed); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "5", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifier(t *testing.T) {
	issued, err := IssueToken([]byte("s3cret"), 9, "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	id, err := NewVerifier("s3cret").UserID(issued)
	if err != nil || id != 9 {
		t.Fatalf("UserID() = %d, %v", id, err)
	}
}
