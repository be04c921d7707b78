package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationID(t *testing.T) {
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := r.Context().Value(CorrelationKey).(string)
		if !ok || id == "" {
			t.Error("correlation id missing from context")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("header missing")
	}
}

func TestCorrelationID_EchoesCallerHeader(t *testing.T) {
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetCorrelationID(r.Context()); got != "caller-supplied" {
			t.Errorf("expected caller id in context, got %q", got)
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-ID", "caller-supplied")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "caller-supplied" {
		t.Errorf("expected caller id echoed in response header, got %q", got)
	}
}

func TestGetCorrelationID_Unset(t *testing.T) {
	if got := GetCorrelationID(context.Background()); got != "unknown" {
		t.Errorf("expected fallback id, got %q", got)
	}
}

func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := GetCorrelationID(ctx); got != "abc-123" {
		t.Errorf("expected injected id, got %q", got)
	}
}
