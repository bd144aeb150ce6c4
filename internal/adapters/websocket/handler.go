package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// StatusReader reads the last recorded status of a job.
type StatusReader interface {
	Get(ctx context.Context, jobID string) (domain.JobStatusRecord, bool)
}

// Handler upgrades GET /v1/jobs/{id}/stream and pushes status transitions until the
// job reaches a terminal status or the client leaves.
type Handler struct {
	logger         domain.Logger
	configProvider config.Provider
	status         StatusReader
	events         domain.JobEventSubscriber

	// serverCtx ends every open stream on Shutdown.
	serverCtx  context.Context
	stopServer context.CancelFunc
}

func NewHandler(logger domain.Logger, cfgProvider config.Provider, status StatusReader, events domain.JobEventSubscriber) *Handler {
	serverCtx, stop := context.WithCancel(context.Background())
	return &Handler{
		logger:         logger,
		configProvider: cfgProvider,
		status:         status,
		events:         events,
		serverCtx:      serverCtx,
		stopServer:     stop,
	}
}

// Shutdown closes every open stream with a going-away status. Hijacked connections
// are not tracked by http.Server.Shutdown.
func (h *Handler) Shutdown() {
	h.stopServer()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		domain.NewErrorResponse(domain.CodeBadRequest, "Missing job id in path.", "").WriteJSON(w, http.StatusBadRequest)
		return
	}

	// Subscribe before reading the snapshot so no transition falls between the two.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stopOnShutdown := context.AfterFunc(h.serverCtx, cancel)
	defer stopOnShutdown()
	events, err := h.events.SubscribeJobEvents(connCtx, jobID)
	if err != nil {
		cancel()
		h.logger.Error(r.Context(), "Failed to subscribe to job events", "job_id", jobID, "error", err.Error())
		domain.NewErrorResponse(domain.CodeUnavailable, "Job events unavailable", "").WriteJSON(w, http.StatusServiceUnavailable)
		return
	}
	defer events.Close()

	snapshot, ok := h.status.Get(r.Context(), jobID)
	if !ok {
		cancel()
		domain.NewErrorResponse(domain.CodeNotFound, "Job not found", "").WriteJSON(w, http.StatusNotFound)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"json.v1"}})
	if err != nil {
		cancel()
		h.logger.Warn(r.Context(), "WebSocket upgrade failed", "job_id", jobID, "error", err.Error())
		return
	}
	defer metrics.StreamOpened()()

	srv := h.configProvider.Get().Server
	conn := NewConnection(connCtx, cancel, c, r.RemoteAddr, h.logger,
		config.Seconds(srv.StreamWriteSeconds, 10*time.Second),
		config.Seconds(srv.StreamPingSeconds, 20*time.Second))
	h.logger.Info(connCtx, "Job stream opened", "job_id", jobID, "remoteAddr", conn.RemoteAddr())

	// CloseRead drains client frames; its context ends when the client disconnects.
	// It is detached from connCtx so a server-side close still sends its close frame.
	clientGone := c.CloseRead(context.WithoutCancel(connCtx))
	conn.StartKeepalive()

	code, reason := h.pump(connCtx, clientGone, conn, jobID, snapshot, events.C())
	if err := conn.Close(code, reason); err != nil && !isClosedError(err) {
		h.logger.Debug(connCtx, "Error closing job stream", "job_id", jobID, "error", err.Error())
	}
	h.logger.Info(connCtx, "Job stream closed", "job_id", jobID, "reason", reason)
}

func (h *Handler) pump(ctx, clientGone context.Context, conn *Connection, jobID string, snapshot domain.JobStatusRecord, events <-chan domain.JobEvent) (websocket.StatusCode, string) {
	first := domain.JobEvent{JobID: jobID, Status: snapshot.Status, DocID: snapshot.DocID, Error: snapshot.Error}
	if err := conn.WriteJSON(NewStatusMessage(first)); err != nil {
		return websocket.StatusInternalError, "write failed"
	}
	if snapshot.Status.IsTerminal() {
		return websocket.StatusNormalClosure, string(snapshot.Status)
	}

	for {
		select {
		case <-clientGone.Done():
			return websocket.StatusGoingAway, "client gone"
		case <-ctx.Done():
			if h.serverCtx.Err() != nil {
				return websocket.StatusGoingAway, "server shutting down"
			}
			return websocket.StatusGoingAway, "keepalive failed"
		case ev, ok := <-events:
			if !ok {
				_ = conn.CloseWithError(domain.NewErrorResponse(domain.CodeUnavailable, "Job events interrupted", ""), "subscription ended")
				return websocket.StatusInternalError, "subscription ended"
			}
			if err := conn.WriteJSON(NewStatusMessage(ev)); err != nil {
				return websocket.StatusInternalError, "write failed"
			}
			if ev.Status.IsTerminal() {
				return websocket.StatusNormalClosure, string(ev.Status)
			}
		}
	}
}

func isClosedError(err error) bool {
	var ce websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}
