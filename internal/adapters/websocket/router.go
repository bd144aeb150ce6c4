package websocket

import (
	"context"
	"net/http"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/middleware"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// Router mounts the job status stream behind the request ID and owner identity middleware.
type Router struct {
	logger    domain.Logger
	wsHandler *Handler
}

func NewRouter(logger domain.Logger, wsHandler *Handler) *Router {
	return &Router{logger: logger, wsHandler: wsHandler}
}

// RegisterRoutes registers GET /v1/jobs/{id}/stream.
func (r *Router) RegisterRoutes(ctx context.Context, mux *http.ServeMux) {
	h := middleware.RequestIDMiddleware(middleware.OwnerIdentityMiddleware(r.logger)(r.wsHandler))
	mux.Handle("GET /v1/jobs/{id}/stream", h)
	r.logger.Info(ctx, "WebSocket endpoint registered", "pattern", "GET /v1/jobs/{id}/stream")
}

// Shutdown ends every open job stream.
func (r *Router) Shutdown() {
	r.wsHandler.Shutdown()
}
