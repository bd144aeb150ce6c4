package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/middleware"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/stream"
)

type fakeStatus map[string]domain.JobStatusRecord

func (f fakeStatus) Get(_ context.Context, jobID string) (domain.JobStatusRecord, bool) {
	rec, ok := f[jobID]
	return rec, ok
}

// fakeEvents hands out one channel-fed stream and reports when it is closed.
type fakeEvents struct {
	ch     chan domain.JobEvent
	closed chan struct{}
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{ch: make(chan domain.JobEvent, 8), closed: make(chan struct{})}
}

func (f *fakeEvents) SubscribeJobEvents(ctx context.Context, jobID string) (*stream.Stream[domain.JobEvent], error) {
	return stream.New(ctx, 1, func(ctx context.Context, emit stream.Emit[domain.JobEvent]) error {
		defer close(f.closed)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-f.ch:
				if !emit(ev) {
					return nil
				}
			}
		}
	}), nil
}

func newStreamServer(t *testing.T, status fakeStatus, events *fakeEvents) *httptest.Server {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{StreamPingSeconds: 0, StreamWriteSeconds: 2}}
	mux := http.NewServeMux()
	h := NewHandler(logger.NewNop(), config.NewStaticProvider(cfg), status, events)
	NewRouter(logger.NewNop(), h).RegisterRoutes(context.Background(), mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, jobID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/" + jobID + "/stream"
	return websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{middleware.XUserIDHeader: []string{"u1"}},
	})
}

func readStatus(t *testing.T, c *websocket.Conn) domain.JobEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    string          `json:"type"`
		Payload domain.JobEvent `json:"payload"`
	}
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageTypeStatus {
		t.Fatalf("unexpected message type %q", msg.Type)
	}
	return msg.Payload
}

func TestStreamPushesUntilTerminal(t *testing.T) {
	events := newFakeEvents()
	srv := newStreamServer(t, fakeStatus{"j1": {Status: domain.StatusQueued, DocID: "d1"}}, events)

	c, _, err := dial(t, srv, "j1")
	if err != nil {
		t.Fatal(err)
	}
	defer c.CloseNow()

	if ev := readStatus(t, c); ev.Status != domain.StatusQueued || ev.JobID != "j1" {
		t.Fatalf("unexpected snapshot %+v", ev)
	}
	events.ch <- domain.JobEvent{JobID: "j1", Status: domain.StatusTranslate, DocID: "d1"}
	events.ch <- domain.JobEvent{JobID: "j1", Status: domain.StatusCompleted, DocID: "d1"}
	if ev := readStatus(t, c); ev.Status != domain.StatusTranslate {
		t.Fatalf("expected translate, got %+v", ev)
	}
	if ev := readStatus(t, c); ev.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %+v", ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure after terminal status, got %v", err)
	}
}

func TestStreamTerminalSnapshotClosesImmediately(t *testing.T) {
	srv := newStreamServer(t, fakeStatus{"j1": {Status: domain.StatusError, Error: "bad file"}}, newFakeEvents())

	c, _, err := dial(t, srv, "j1")
	if err != nil {
		t.Fatal(err)
	}
	defer c.CloseNow()

	if ev := readStatus(t, c); ev.Status != domain.StatusError || ev.Error != "bad file" {
		t.Fatalf("unexpected snapshot %+v", ev)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestStreamUnknownJobIs404(t *testing.T) {
	srv := newStreamServer(t, fakeStatus{}, newFakeEvents())
	_, resp, err := dial(t, srv, "missing")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestClientDisconnectUnsubscribes(t *testing.T) {
	events := newFakeEvents()
	srv := newStreamServer(t, fakeStatus{"j1": {Status: domain.StatusQueued}}, events)

	c, _, err := dial(t, srv, "j1")
	if err != nil {
		t.Fatal(err)
	}
	readStatus(t, c)
	_ = c.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-events.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not closed after client disconnect")
	}
}

func TestShutdownClosesOpenStreams(t *testing.T) {
	events := newFakeEvents()
	cfg := &config.Config{Server: config.ServerConfig{StreamWriteSeconds: 2}}
	h := NewHandler(logger.NewNop(), config.NewStaticProvider(cfg), fakeStatus{"j1": {Status: domain.StatusQueued}}, events)
	mux := http.NewServeMux()
	router := NewRouter(logger.NewNop(), h)
	router.RegisterRoutes(context.Background(), mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, _, err := dial(t, srv, "j1")
	if err != nil {
		t.Fatal(err)
	}
	defer c.CloseNow()
	readStatus(t, c)

	router.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected going away closure, got %v", err)
	}
}
