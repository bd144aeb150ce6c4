package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/pkg/contextkeys"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(contextkeys.RequestIDKey).(string)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(XRequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get(XRequestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(XRequestIDHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || seen == "req-123" {
		t.Fatalf("expected generated request id, got %q", seen)
	}
}

func TestOwnerIdentityMiddleware(t *testing.T) {
	var owner string
	h := OwnerIdentityMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner = OwnerID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set(XUserIDHeader, "u1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || owner != "u1" {
		t.Fatalf("status = %d owner = %q", rec.Code, owner)
	}
}
