package jwt

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/kbqa/pkg/auth"
	"github.com/rhuss/kbqa/pkg/config"
)

var testSecret = []byte("test-secret-with-enough-entropy")

func sign(t *testing.T, method jwtlib.SigningMethod, key any, claims jwtlib.MapClaims) string {
	t.Helper()
	s, err := jwtlib.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func validClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub":   "admin",
		"iss":   "kbqa",
		"aud":   "kbqa-admin",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "cache:clear llm:switch",
		"tier":  "gold",
	}
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(Config{Secret: testSecret, Issuer: "kbqa", Audience: "kbqa-admin"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if _, err := FromConfig(config.JWTConfig{Secret: "s"}); err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
}

func TestAuthenticate_Valid(t *testing.T) {
	a := newTestAuthenticator(t)
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwtlib.SigningMethodHS256, testSecret, validClaims()))

	got := a.Authenticate(context.Background(), req)
	if got.Decision != auth.Yes {
		t.Fatalf("decision = %d, want Yes (err: %v)", got.Decision, got.Err)
	}
	if got.Identity.Subject != "admin" {
		t.Errorf("subject = %q, want admin", got.Identity.Subject)
	}
	if got.Identity.ServiceTier != "gold" {
		t.Errorf("tier = %q, want gold", got.Identity.ServiceTier)
	}
	if len(got.Identity.Scopes) != 2 || got.Identity.Scopes[1] != "llm:switch" {
		t.Errorf("scopes = %v", got.Identity.Scopes)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	a := newTestAuthenticator(t)

	mutate := func(f func(jwtlib.MapClaims)) jwtlib.MapClaims {
		c := validClaims()
		f(c)
		return c
	}

	tests := []struct {
		name   string
		method jwtlib.SigningMethod
		key    any
		claims jwtlib.MapClaims
	}{
		{"wrong secret", jwtlib.SigningMethodHS256, []byte("other"), validClaims()},
		{"wrong algorithm", jwtlib.SigningMethodHS512, testSecret, validClaims()},
		{"expired", jwtlib.SigningMethodHS256, testSecret, mutate(func(c jwtlib.MapClaims) {
			c["exp"] = time.Now().Add(-time.Minute).Unix()
		})},
		{"missing exp", jwtlib.SigningMethodHS256, testSecret, mutate(func(c jwtlib.MapClaims) { delete(c, "exp") })},
		{"wrong issuer", jwtlib.SigningMethodHS256, testSecret, mutate(func(c jwtlib.MapClaims) { c["iss"] = "evil" })},
		{"wrong audience", jwtlib.SigningMethodHS256, testSecret, mutate(func(c jwtlib.MapClaims) { c["aud"] = "other" })},
		{"missing subject", jwtlib.SigningMethodHS256, testSecret, mutate(func(c jwtlib.MapClaims) { delete(c, "sub") })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			req.Header.Set("Authorization", "Bearer "+sign(t, tt.method, tt.key, tt.claims))

			got := a.Authenticate(context.Background(), req)
			if got.Decision != auth.No {
				t.Fatalf("decision = %d, want No", got.Decision)
			}
			if got.Err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAuthenticate_Abstain(t *testing.T) {
	a := newTestAuthenticator(t)

	req := httptest.NewRequest("POST", "/", nil)
	if got := a.Authenticate(context.Background(), req); got.Decision != auth.Abstain {
		t.Errorf("no header: decision = %d, want Abstain", got.Decision)
	}

	req.Header.Set("Authorization", "Basic abc")
	if got := a.Authenticate(context.Background(), req); got.Decision != auth.Abstain {
		t.Errorf("basic: decision = %d, want Abstain", got.Decision)
	}

	req.Header.Set("Authorization", "Bearer not.a.jwt")
	if got := a.Authenticate(context.Background(), req); got.Decision != auth.No {
		t.Errorf("garbage token: decision = %d, want No", got.Decision)
	}
}

func TestExtractScopes(t *testing.T) {
	if got := extractScopes([]any{"a", 1, "b"}); len(got) != 2 {
		t.Errorf("array scopes = %v", got)
	}
	if got := extractScopes("  "); got != nil {
		t.Errorf("blank scopes = %v", got)
	}
	if got := extractScopes(nil); got != nil {
		t.Errorf("nil scopes = %v", got)
	}
}
