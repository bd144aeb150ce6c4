package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc, failures int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.AIConfig{
		BaseURL:               srv.URL,
		APIKey:                "secret",
		TimeoutSeconds:        5,
		BreakerFailures:       failures,
		BreakerTimeoutSeconds: 60,
	}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func spilled(text string) *domain.SpilledFile {
	return &domain.SpilledFile{Ref: "r", Name: "letter.txt", ContentType: "text/plain", Body: io.NopCloser(strings.NewReader(text))}
}

func TestTranslateSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/translate" || r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		_ = json.NewEncoder(w).Encode(domain.TranslationResult{
			TranslatedText: "[" + r.FormValue("target_language") + "] " + string(b),
		})
	}, 3)

	out, err := c.Translate(context.Background(), spilled("hallo"), "en")
	if err != nil {
		t.Fatal(err)
	}
	if out.TranslatedText != "[en] hallo" {
		t.Fatalf("unexpected translation %q", out.TranslatedText)
	}
}

func TestSummarizeDecodesSummary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req summarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.Summary{Title: req.TargetLanguage, Summary: req.Text, ActionItems: []string{"pay"}})
	}, 3)

	s, err := c.Summarize(context.Background(), "text", "de")
	if err != nil {
		t.Fatal(err)
	}
	if s.Title != "de" || s.Summary != "text" || len(s.ActionItems) != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		code      int
		kind      domain.ErrorKind
		retryable bool
	}{
		{http.StatusBadRequest, domain.KindValidation, false},
		{http.StatusUnprocessableEntity, domain.KindValidation, false},
		{http.StatusTooManyRequests, domain.KindTransient, true},
		{http.StatusBadGateway, domain.KindTransient, true},
		{http.StatusUnauthorized, domain.KindFatal, false},
	}
	for _, tc := range cases {
		err := classifyStatus("op", tc.code, []byte("nope"))
		if domain.KindOf(err) != tc.kind || domain.IsRetryable(err) != tc.retryable {
			t.Fatalf("code %d: got kind %s retryable %v", tc.code, domain.KindOf(err), domain.IsRetryable(err))
		}
	}
	if classifyStatus("op", http.StatusOK, nil) != nil {
		t.Fatal("2xx must not be an error")
	}
}

func TestErrorBodyTrimmedOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxErrorBody-1) + "ü" + strings.Repeat("b", 10)
	err := classifyStatus("op", http.StatusBadRequest, []byte(body))
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("error text is not valid UTF-8: %q", err.Error())
	}
	if strings.Contains(err.Error(), "b") {
		t.Fatal("body beyond the limit must be dropped")
	}
	if got := truncate("grüße", 3); got != "gr" {
		t.Fatalf("truncate split a rune: %q", got)
	}
}

func TestBreakerOpensOnTransientFailuresOnly(t *testing.T) {
	var calls atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Summarize(ctx, "x", "en"); domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
	}
	if calls.Load() != 3 {
		t.Fatalf("rejected inputs must not open the breaker, got %d calls", calls.Load())
	}

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		_, _ = c.Summarize(ctx, "x", "en")
	}
	before := calls.Load()
	_, err := c.Summarize(ctx, "x", "en")
	if !domain.IsRetryable(err) {
		t.Fatalf("open breaker must surface a retryable error, got %v", err)
	}
	if calls.Load() != before {
		t.Fatal("open breaker must not reach the gateway")
	}
}
