package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by tokens issued by the external identity service.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenValidator verifies bearer tokens minted by the deployment's identity
// service. llmdash never issues tokens itself; it only validates the HS256
// signature against the shared secret. An empty secret disables validation,
// which is intended for local development only.
type TokenValidator struct {
	secret      []byte
	mu          sync.Mutex
	apiFailures map[string]*apiFailure
}

type apiFailure struct {
	count        int
	lastAttempt  time.Time
	lockoutUntil time.Time
}

const (
	apiFailureWindow = 10 * time.Minute
	apiFailureLimit  = 10
	apiLockoutPeriod = 5 * time.Minute
)

// NewTokenValidator builds a validator over the shared HS256 secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{
		secret:      []byte(secret),
		apiFailures: make(map[string]*apiFailure),
	}
}

// Enabled reports whether token validation is active.
func (t *TokenValidator) Enabled() bool {
	return len(t.secret) > 0
}

// ValidateToken parses and verifies one bearer token.
func (t *TokenValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RequireAPIAuth guards API routes. Repeated failures from one client IP are
// locked out briefly to blunt token guessing.
func (t *TokenValidator) RequireAPIAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Enabled() {
			c.Next()
			return
		}

		key := c.ClientIP()
		if remaining, locked := t.checkLockout(key); locked {
			c.Header("Retry-After", remaining.Round(time.Second).String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many failed attempts"})
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		claims, err := t.ValidateToken(token)
		if err != nil {
			t.recordFailure(key)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		t.clearFailures(key)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func (t *TokenValidator) checkLockout(key string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.apiFailures[key]
	if !ok {
		return 0, false
	}
	if now := time.Now(); f.lockoutUntil.After(now) {
		return f.lockoutUntil.Sub(now), true
	}
	return 0, false
}

func (t *TokenValidator) recordFailure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	f, ok := t.apiFailures[key]
	if !ok || now.Sub(f.lastAttempt) > apiFailureWindow {
		f = &apiFailure{}
		t.apiFailures[key] = f
	}
	f.count++
	f.lastAttempt = now
	if f.count >= apiFailureLimit {
		f.lockoutUntil = now.Add(apiLockoutPeriod)
		f.count = 0
	}
}

func (t *TokenValidator) clearFailures(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.apiFailures, key)
}
