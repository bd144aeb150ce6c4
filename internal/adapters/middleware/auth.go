package middleware

import (
	"context"
	"net/http"
	"strings"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/contextkeys"
)

// XUserIDHeader carries the owner identity set by the authenticating gateway.
const XUserIDHeader = "X-User-ID"

// OwnerIdentityMiddleware copies the gateway-verified owner identity into the context.
// Token verification happens upstream; requests without the header are rejected.
func OwnerIdentityMiddleware(logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(XUserIDHeader))
			if userID == "" {
				logger.Warn(r.Context(), "Request rejected: owner identity missing", "path", r.URL.Path)
				domain.NewErrorResponse(domain.CodeUnauthorized, "Owner identity is required", "Provide the X-User-ID header.").
					WriteJSON(w, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), contextkeys.UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerID returns the owner identity stored by OwnerIdentityMiddleware.
func OwnerID(ctx context.Context) string {
	v, _ := ctx.Value(contextkeys.UserIDKey).(string)
	return v
}
