package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/osvaldoandrade/mpsflow/pkg/auth"
	_ "github.com/osvaldoandrade/mpsflow/pkg/auth/hmac" // register hmac provider
	_ "github.com/osvaldoandrade/mpsflow/pkg/auth/static"
	"github.com/osvaldoandrade/mpsflow/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() { gin.SetMode(gin.TestMode) }

func hmacConfig(t *testing.T) *config.Config {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{"secret": "shh", "issuer": "mpsflow-test"})
	return &config.Config{Auth: config.AuthConfig{Provider: "hmac", Config: raw}}
}

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shh"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func serveAuth(cfg *config.Config, header string) (*httptest.ResponseRecorder, *auth.Claims) {
	var seen *auth.Claims
	validator, err := NewValidator(cfg)
	if err != nil {
		panic(err)
	}
	r := gin.New()
	r.GET("/p", AuthMiddleware(validator), func(c *gin.Context) {
		seen, _ = GetClaims(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthMiddleware_DisabledWithoutProvider(t *testing.T) {
	rec, _ := serveAuth(&config.Config{}, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

func TestAuthMiddleware_HMAC(t *testing.T) {
	cfg := hmacConfig(t)
	exp := time.Now().Add(time.Hour).Unix()

	valid := signHS256(t, jwt.MapClaims{"iss": "mpsflow-test", "sub": "ci", "exp": exp, "scope": auth.ScopeSolve})
	rec, claims := serveAuth(cfg, "Bearer "+valid)
	if rec.Code != http.StatusNoContent || claims == nil || claims.Subject != "ci" {
		t.Fatalf("valid token: code=%d claims=%+v", rec.Code, claims)
	}

	noScope := signHS256(t, jwt.MapClaims{"iss": "mpsflow-test", "sub": "ci", "exp": exp})
	if rec, _ := serveAuth(cfg, "Bearer "+noScope); rec.Code != http.StatusForbidden {
		t.Fatalf("missing scope: expected 403, got %d", rec.Code)
	}

	if rec, _ := serveAuth(cfg, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", rec.Code)
	}
	if rec, _ := serveAuth(cfg, "Basic abc"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme: expected 401, got %d", rec.Code)
	}
	if rec, _ := serveAuth(cfg, "Bearer garbage"); rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("bad token: expected 401 with challenge, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Static(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Provider: "static", Config: json.RawMessage(`{"token":"t0k"}`)}}
	if rec, _ := serveAuth(cfg, "Bearer t0k"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec, _ := serveAuth(cfg, "Bearer other"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestNewValidator_UnknownProvider(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Provider: "nope", Config: json.RawMessage(`{}`)}}
	if _, err := NewValidator(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var fromCtx string
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/p", func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))
	generated := rec.Header().Get(RequestIDHeader)
	if len(generated) != 36 || fromCtx != generated {
		t.Fatalf("generated id %q, context %q", generated, fromCtx)
	}

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) != "abc-123" || fromCtx != "abc-123" {
		t.Fatalf("incoming id not kept: %q", rec.Header().Get(RequestIDHeader))
	}
}
