package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestAuthIssueValidate(t *testing.T) {
	svc := NewService("secret", time.Hour)
	token, err := svc.IssueToken("65f0c0ffee")
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	userID, err := svc.ValidateToken(token)
	if err != nil || userID != "65f0c0ffee" {
		t.Fatalf("ValidateToken failed: id=%s err=%v", userID, err)
	}

	other := NewService("another-secret", time.Hour)
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}
	if _, err := svc.ValidateToken(""); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected token required, got %v", err)
	}
	if _, err := svc.IssueToken("  "); err == nil {
		t.Fatalf("expected error for blank user id")
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	svc := NewService("secret", time.Hour)
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiration error, got %v", err)
	}
}

func TestAuthRejectsTokenWithoutUser(t *testing.T) {
	svc := NewService("secret", time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService("secret", time.Hour)
	router := gin.New()
	router.GET("/me", svc.Middleware(), func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, userID)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}

	token, err := svc.IssueToken("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
