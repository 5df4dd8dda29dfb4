package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", false); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	log, err := New("debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	_ = log.Sync()
}

func TestGinLoggerAndRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	router := gin.New()
	router.Use(GinLogger(log), GinRecovery(log))
	router.GET("/ok", func(c *gin.Context) {
		c.Set(UserIDKey, "u-1")
		c.Status(http.StatusNoContent)
	})
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 || entries[0].ContextMap()["user_id"] != "u-1" {
		t.Fatalf("expected access log with user id, got %+v", entries)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}
