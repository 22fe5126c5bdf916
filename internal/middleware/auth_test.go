package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret, username string, expiry time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authRouter(v *TokenValidator) *gin.Engine {
	r := gin.New()
	r.GET("/api/ping", v.RequireAPIAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString("username")})
	})
	return r
}

func doAuth(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidateToken(t *testing.T) {
	v := NewTokenValidator("shared-secret")

	good := signToken(t, "shared-secret", "ops", time.Hour)
	claims, err := v.ValidateToken(good)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "ops" {
		t.Errorf("username = %q, want ops", claims.Username)
	}

	if _, err := v.ValidateToken(signToken(t, "other-secret", "ops", time.Hour)); err == nil {
		t.Error("token signed with the wrong secret validated")
	}
	if _, err := v.ValidateToken(signToken(t, "shared-secret", "ops", -time.Hour)); err == nil {
		t.Error("expired token validated")
	}
	if _, err := v.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token validated")
	}
}

func TestRequireAPIAuth(t *testing.T) {
	v := NewTokenValidator("shared-secret")
	r := authRouter(v)

	if w := doAuth(r, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	if w := doAuth(r, "bogus"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}
	if w := doAuth(r, signToken(t, "shared-secret", "ops", time.Hour)); w.Code != http.StatusOK {
		t.Errorf("good token status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestRequireAPIAuthDisabledWithoutSecret(t *testing.T) {
	v := NewTokenValidator("")
	if v.Enabled() {
		t.Fatal("validator enabled with empty secret")
	}
	r := authRouter(v)
	if w := doAuth(r, ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when validation is disabled", w.Code)
	}
}

func TestRequireAPIAuthLockout(t *testing.T) {
	v := NewTokenValidator("shared-secret")
	r := authRouter(v)

	for i := 0; i < apiFailureLimit; i++ {
		if w := doAuth(r, "bogus"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, w.Code)
		}
	}
	w := doAuth(r, signToken(t, "shared-secret", "ops", time.Hour))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("post-lockout status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("lockout response missing Retry-After")
	}
}
