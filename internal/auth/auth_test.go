package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	tok, err := issuer.Issue("session-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if tok.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want bearer", tok.TokenType)
	}
	if tok.ExpiresAt.Before(time.Now()) {
		t.Errorf("ExpiresAt = %v, want future", tok.ExpiresAt)
	}

	sub, err := issuer.Verify(tok.AccessToken)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sub != "session-123" {
		t.Errorf("Verify() = %q, want session-123", sub)
	}
}

func TestNewIssuer(t *testing.T) {
	if _, err := NewIssuer("", time.Hour); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("NewIssuer(\"\") error = %v, want ErrEmptySecret", err)
	}

	issuer, err := NewIssuer("s", 0)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	if issuer.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", issuer.ttl, DefaultTTL)
	}

	if _, err := issuer.Issue(""); err == nil {
		t.Error("Issue(\"\") expected error")
	}
}

func TestIssuer_VerifyRejects(t *testing.T) {
	issuer, _ := NewIssuer("test-secret", time.Hour)
	other, _ := NewIssuer("other-secret", time.Hour)

	expired, _ := NewIssuer("test-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredTok, _ := expired.Issue("s1")

	wrongSig, _ := other.Issue("s1")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "s1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "s1",
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"malformed", "not-a-token"},
		{"empty", ""},
		{"expired", expiredTok.AccessToken},
		{"wrong signature", wrongSig.AccessToken},
		{"none algorithm", none},
		{"missing expiry", noExp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def", "abc.def", false},
		{"lowercase scheme", "bearer abc", "abc", false},
		{"missing", "", "", true},
		{"no token", "Bearer", "", true},
		{"blank token", "Bearer   ", "", true},
		{"basic scheme", "Basic dXNlcg==", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
