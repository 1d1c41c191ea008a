package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoCorrelationRouter() *gin.Engine {
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/echo", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"gin": GetCorrelationID(c),
			"ctx": CorrelationIDFromContext(c.Request.Context()),
		})
	})
	return r
}

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated when absent", ""},
		{"kept when supplied", "deletion-7f3a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/echo", nil)
			if tt.header != "" {
				req.Header.Set(CorrelationIDHeader, tt.header)
			}
			echoCorrelationRouter().ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}
			got := w.Header().Get(CorrelationIDHeader)
			if got == "" {
				t.Fatal("expected X-Correlation-ID response header")
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("expected header %q, got %q", tt.header, got)
			}

			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["gin"] != got || body["ctx"] != got {
				t.Errorf("gin ctx %q and request ctx %q should both equal %q", body["gin"], body["ctx"], got)
			}
		})
	}
}

func TestGetCorrelationID_NoContext(t *testing.T) {
	r := gin.New()
	r.GET("/test", func(c *gin.Context) {
		id := GetCorrelationID(c)
		if id == "" {
			t.Error("expected a generated UUID, got empty string")
		}
		c.String(http.StatusOK, id)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestCorrelationIDFromContext_Missing(t *testing.T) {
	if id := CorrelationIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty correlation ID, got %q", id)
	}
}
